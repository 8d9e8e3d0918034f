package keystore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/blake3"
)

const fingerprintLen = 16

// keyVersion is one generation of a channel key. material is what players exchange; aead is
// the derived cipher key and never leaves the store.
type keyVersion struct {
	version     uint32
	material    string
	aead        []byte
	fingerprint string
}

func newKeyMaterial() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func deriveKey(channelID string, version uint32, material string) (keyVersion, error) {
	info := make([]byte, 0, 32)
	info = append(info, "wasteland.fm/radio/v"...)
	info = binary.BigEndian.AppendUint32(info, version)

	r := hkdf.New(sha256.New, []byte(material), []byte(channelID), info)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return keyVersion{}, fmt.Errorf("derive key: %w", err)
	}
	return keyVersion{
		version:     version,
		material:    material,
		aead:        key,
		fingerprint: fingerprint(channelID, version, key),
	}, nil
}

func fingerprint(channelID string, version uint32, key []byte) string {
	buf := make([]byte, 0, len(channelID)+5+len(key))
	buf = append(buf, channelID...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint32(buf, version)
	buf = append(buf, key...)
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

func seal(kv keyVersion, channelID string, plaintext []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.New(kv.aead)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("nonce: %w", err)
	}
	return nonce, aead.Seal(nil, nonce, plaintext, []byte(channelID)), nil
}

func open(kv keyVersion, channelID string, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(kv.aead)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("bad nonce length %d", len(nonce))
	}
	return aead.Open(nil, nonce, ciphertext, []byte(channelID))
}
