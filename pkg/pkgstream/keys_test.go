package pkgstream

import (
	"crypto/aes"
	"testing"
)

func TestDeriveKey(t *testing.T) {
	iv := [ivSize]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}

	tests := []struct {
		name    string
		keyType byte
		vendor  [16]byte
		direct  bool // PSP returns the vendor key itself, not an AES-ECB encryption of iv
	}{
		{"psp", 1, vendorKeyPSP, true},
		{"vita2", 2, vendorKeyVita2, false},
		{"vita3", 3, vendorKeyVita3, false},
		{"vita4", 4, vendorKeyVita4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := deriveKey(tt.keyType, iv)
			if err != nil {
				t.Fatalf("deriveKey(%d) error: %v", tt.keyType, err)
			}

			if tt.direct {
				if key != tt.vendor {
					t.Errorf("deriveKey(%d) = %x, want vendor key %x", tt.keyType, key, tt.vendor)
				}
				return
			}

			block, err := aes.NewCipher(tt.vendor[:])
			if err != nil {
				t.Fatalf("aes.NewCipher: %v", err)
			}
			var want [16]byte
			block.Encrypt(want[:], iv[:])
			if key != want {
				t.Errorf("deriveKey(%d) = %x, want %x", tt.keyType, key, want)
			}
		})
	}
}

func TestDeriveKeyInvalidType(t *testing.T) {
	var iv [ivSize]byte
	for _, keyType := range []byte{0, 5, 6, 7} {
		if _, err := deriveKey(keyType, iv); !IsKind(err, KindFormat) {
			t.Errorf("deriveKey(%d) error = %v, want KindFormat", keyType, err)
		}
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	iv := [ivSize]byte{0xaa, 0xbb, 0xcc, 0xdd}
	a, err := deriveKey(3, iv)
	if err != nil {
		t.Fatal(err)
	}
	b, err := deriveKey(3, iv)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("deriveKey not deterministic for identical iv: %x != %x", a, b)
	}

	iv2 := iv
	iv2[0] ^= 0xff
	c, err := deriveKey(3, iv2)
	if err != nil {
		t.Fatal(err)
	}
	if a == c {
		t.Error("deriveKey produced identical key for different iv")
	}
}
