package pkgstream

import (
	"crypto/aes"
	"strconv"
)

// Fixed vendor keys (§6.4). Part of the external contract — not
// configuration.
var (
	vendorKeyPSP   = [16]byte{0x07, 0xf2, 0xc6, 0x82, 0x90, 0xb5, 0x0d, 0x2c, 0x33, 0x81, 0x8d, 0x70, 0x9b, 0x60, 0xe6, 0x2b}
	vendorKeyVita2 = [16]byte{0xe3, 0x1a, 0x70, 0xc9, 0xce, 0x1d, 0xd7, 0x2b, 0xf3, 0xc0, 0x62, 0x29, 0x63, 0xf2, 0xec, 0xcb}
	vendorKeyVita3 = [16]byte{0x42, 0x3a, 0xca, 0x3a, 0x2b, 0xd5, 0x64, 0x9f, 0x96, 0x86, 0xab, 0xad, 0x6f, 0xd8, 0x80, 0x1f}
	vendorKeyVita4 = [16]byte{0xaf, 0x07, 0xfd, 0x59, 0x65, 0x25, 0x27, 0xba, 0xf1, 0x33, 0x89, 0x66, 0x8b, 0x17, 0xd9, 0xea}
)

// deriveKey selects one of the four key-type branches from the low 3 bits
// of head[0xE7] and returns the per-package AES-128 key (§4.2 step 5).
func deriveKey(keyType byte, iv [ivSize]byte) ([16]byte, error) {
	var vendor [16]byte
	switch keyType {
	case 1:
		return vendorKeyPSP, nil
	case 2:
		vendor = vendorKeyVita2
	case 3:
		vendor = vendorKeyVita3
	case 4:
		vendor = vendorKeyVita4
	default:
		return [16]byte{}, newErr(KindFormat, errInvalidKeyType(keyType))
	}

	block, err := aes.NewCipher(vendor[:])
	if err != nil {
		// unreachable: vendor keys are always valid AES-128 keys
		return [16]byte{}, wrapErr(KindFormat, err, "vendor key cipher init")
	}

	var key [16]byte
	block.Encrypt(key[:], iv[:])
	return key, nil
}

func errInvalidKeyType(keyType byte) string {
	return "invalid key type " + strconv.Itoa(int(keyType))
}
