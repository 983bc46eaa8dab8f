package pkgstream

import (
	"crypto/aes"
	"crypto/cipher"
)

// ctrDecryptor decrypts bytes of the PKG's encrypted region in place. Unlike
// the stdlib cipher.StreamReader (which tracks an implicit running
// position), every call here is given the true absolute byte offset within
// the encrypted region, because the wire format requires it: the head
// parser peeks at item 0's descriptor (offset 0), then later re-enters the
// stream at arbitrary offsets for per-item descriptors, names, and payload
// chunks (§4.5).
type ctrDecryptor struct {
	block cipher.Block
	iv    [ivSize]byte
}

func newCTRDecryptor(key, iv [16]byte) (*ctrDecryptor, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, wrapErr(KindFormat, err, "aes cipher init")
	}
	return &ctrDecryptor{block: block, iv: iv}, nil
}

// decryptAt XORs buf with the keystream for the 16-byte blocks starting at
// byteOffset (measured from the start of the encrypted region), writing the
// result back into buf. byteOffset need not be block-aligned: the counter
// starts at block byteOffset/16 and the first byteOffset%16 keystream bytes
// of that block are skipped, as the original's aes128_ctr does. pkgstream
// relies on this for item names (name_offset is not block aligned) and for
// payload chunks that follow a short transport read.
func (d *ctrDecryptor) decryptAt(byteOffset uint64, buf []byte) {
	blockIndex := byteOffset / 16
	within := int(byteOffset % 16)

	var counter [16]byte
	copy(counter[:], d.iv[:])
	addCounter(&counter, blockIndex)

	var keystream [16]byte
	pos := 0
	for pos < len(buf) {
		d.block.Encrypt(keystream[:], counter[:])
		start := 0
		if pos == 0 {
			start = within
		}
		n := 16 - start
		if rem := len(buf) - pos; n > rem {
			n = rem
		}
		for i := 0; i < n; i++ {
			buf[pos+i] ^= keystream[start+i]
		}
		pos += n
		incCounter(&counter)
	}
}

// addCounter adds n to the big-endian 128-bit value held in ctr, matching
// the reference aes128_ctr's counter-as-big-number semantics.
func addCounter(ctr *[16]byte, n uint64) {
	var nb [8]byte
	for i := 7; i >= 0; i-- {
		nb[i] = byte(n)
		n >>= 8
	}
	var carry uint16
	for i := 15; i >= 0; i-- {
		var addend byte
		if i >= 8 {
			addend = nb[i-8]
		}
		sum := uint16(ctr[i]) + uint16(addend) + carry
		ctr[i] = byte(sum)
		carry = sum >> 8
	}
}

func incCounter(ctr *[16]byte) {
	for i := 15; i >= 0; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			break
		}
	}
}
