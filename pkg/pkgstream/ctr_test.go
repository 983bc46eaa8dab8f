package pkgstream

import "testing"

func testKeyIV() ([16]byte, [ivSize]byte) {
	key := [16]byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80, 0x90, 0xa0, 0xb0, 0xc0, 0xd0, 0xe0, 0xf0, 0x00}
	iv := [ivSize]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	return key, iv
}

// decryptAt must be usable both as a single call over a whole buffer and as
// repeated calls over contiguous sub-ranges of the same logical offset
// range, since head parsing does the former and item streaming the latter.
func TestCTRDecryptChunkedMatchesSingleCall(t *testing.T) {
	key, iv := testKeyIV()

	plain := make([]byte, 137)
	for i := range plain {
		plain[i] = byte(i * 7)
	}

	ctrA, err := newCTRDecryptor(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	whole := append([]byte(nil), plain...)
	ctrA.decryptAt(0, whole)

	ctrB, err := newCTRDecryptor(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	chunked := append([]byte(nil), plain...)
	offsets := []int{0, 13, 16, 32, 50, 100}
	prev := 0
	for _, end := range append(offsets[1:], len(chunked)) {
		ctrB.decryptAt(uint64(prev), chunked[prev:end])
		prev = end
	}

	for i := range whole {
		if whole[i] != chunked[i] {
			t.Fatalf("byte %d differs: single=%x chunked=%x", i, whole[i], chunked[i])
		}
	}
}

// decryptAt is its own inverse: encrypting (XOR with keystream) and
// decrypting are the same operation in CTR mode.
func TestCTRDecryptIsInvolution(t *testing.T) {
	key, iv := testKeyIV()

	plain := []byte("the quick brown fox jumps over the lazy dog 0123456789")

	ctr1, err := newCTRDecryptor(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	cipherText := append([]byte(nil), plain...)
	ctr1.decryptAt(0, cipherText)

	ctr2, err := newCTRDecryptor(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	roundTrip := append([]byte(nil), cipherText...)
	ctr2.decryptAt(0, roundTrip)

	if string(roundTrip) != string(plain) {
		t.Fatalf("round trip = %q, want %q", roundTrip, plain)
	}
}

// A non-zero byteOffset must land on the same keystream bytes the
// equivalent prefix-decrypt-and-discard would produce, since item names and
// payload chunks are addressed at arbitrary, non-block-aligned offsets.
func TestCTRDecryptAtArbitraryOffset(t *testing.T) {
	key, iv := testKeyIV()

	plain := make([]byte, 64)
	for i := range plain {
		plain[i] = byte(i)
	}

	ctrFull, err := newCTRDecryptor(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	full := append([]byte(nil), plain...)
	ctrFull.decryptAt(0, full)

	const offset = 21
	ctrTail, err := newCTRDecryptor(key, iv)
	if err != nil {
		t.Fatal(err)
	}
	tail := append([]byte(nil), plain[offset:]...)
	ctrTail.decryptAt(offset, tail)

	for i := range tail {
		if tail[i] != full[offset+i] {
			t.Fatalf("byte %d differs: offset-decrypt=%x full=%x", i, tail[i], full[offset+i])
		}
	}
}
