package vault

import (
	"bytes"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	v := New("test-passphrase")

	for _, plaintext := range [][]byte{
		[]byte("agent api token"),
		{},
		bytes.Repeat([]byte{0xff}, 4096),
	} {
		ciphertext, nonce, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		decrypted, err := v.Decrypt(ciphertext, nonce)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(plaintext, decrypted) {
			t.Errorf("expected %d bytes back, got %d", len(plaintext), len(decrypted))
		}
	}
}

func TestFreshNoncePerEncryption(t *testing.T) {
	v := New("test-passphrase")
	c1, n1, _ := v.Encrypt([]byte("same"))
	c2, n2, _ := v.Encrypt([]byte("same"))
	if bytes.Equal(n1, n2) || bytes.Equal(c1, c2) {
		t.Error("expected distinct nonce and ciphertext for repeated plaintext")
	}
}

func TestKeyDerivation(t *testing.T) {
	if New("passphrase-one").key == New("passphrase-two").key {
		t.Fatal("different passphrases produced the same key")
	}
	if New("stable").key != New("stable").key {
		t.Fatal("same passphrase produced different keys")
	}
}

func TestDecryptFailures(t *testing.T) {
	v := New("correct-passphrase")
	ciphertext, nonce, err := v.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := New("wrong-passphrase").Decrypt(ciphertext, nonce); err == nil {
		t.Error("expected error decrypting with wrong passphrase")
	}

	tampered := bytes.Clone(ciphertext)
	tampered[0] ^= 0x01
	if _, err := v.Decrypt(tampered, nonce); err == nil {
		t.Error("expected error decrypting tampered ciphertext")
	}
}
