// Package envelope seals serialized metadata records for storage beside a
// design file: base64(IV || AES-256-CBC(PKCS#7(plaintext))).
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/zeebo/blake3"

	"github.com/lattice-labs/bmde-go/internal/provenance"
)

// IVSize is the length of the random prefix of every envelope.
const IVSize = aes.BlockSize

// Envelope encrypts and decrypts with one configured key. The key stays sealed
// in a memguard enclave between calls. Safe for concurrent use.
type Envelope struct {
	key  *memguard.Enclave
	rand io.Reader
}

func New(cfg Config) (*Envelope, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// NewEnclave wipes its argument.
	raw := []byte(cfg.Key)
	key := memguard.NewEnclave(raw)
	if key == nil {
		return nil, provenance.ConfigurationError("envelope", "encryption key is empty")
	}
	return &Envelope{key: key, rand: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random IV, so equal inputs never
// produce equal envelopes.
func (e *Envelope) Encrypt(plaintext []byte) (string, error) {
	block, release, err := e.block("encrypt")
	if err != nil {
		return "", err
	}
	defer release()

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(e.rand, iv); err != nil {
		return "", fmt.Errorf("envelope: read iv: %w", err)
	}

	padded := pad(plaintext, aes.BlockSize)
	out := make([]byte, IVSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[IVSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens an envelope. Surrounding whitespace, such as a trailing
// newline in a sidecar file, is ignored.
func (e *Envelope) Decrypt(envelope string) ([]byte, error) {
	block, release, err := e.block("decrypt")
	if err != nil {
		return nil, err
	}
	defer release()

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envelope))
	if err != nil {
		return nil, provenance.FormatError("decrypt", "envelope is not base64: %v", err)
	}
	if len(raw) < IVSize {
		return nil, provenance.FormatError("decrypt", "envelope is %d bytes, shorter than the %d byte iv", len(raw), IVSize)
	}
	iv, body := raw[:IVSize], raw[IVSize:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, provenance.FormatError("decrypt", "ciphertext length %d is not a positive multiple of %d", len(body), aes.BlockSize)
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)
	out, err := unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, provenance.FormatError("decrypt", "%v", err)
	}
	return out, nil
}

// SealRecord serializes rec and encrypts it.
func (e *Envelope) SealRecord(rec provenance.Record) (string, error) {
	blob, err := provenance.MarshalRecord(rec)
	if err != nil {
		return "", err
	}
	return e.Encrypt(blob)
}

// OpenRecord decrypts and parses a sealed record.
func (e *Envelope) OpenRecord(envelope string) (provenance.Record, error) {
	blob, err := e.Decrypt(envelope)
	if err != nil {
		return provenance.Record{}, err
	}
	return provenance.UnmarshalRecord(blob)
}

// Fingerprint identifies the configured key without revealing it. It scopes
// cached verification outcomes to the key that produced them.
func (e *Envelope) Fingerprint() (string, error) {
	if e == nil || e.key == nil {
		return "", provenance.ConfigurationError("fingerprint", "envelope has no encryption key")
	}
	buf, err := e.key.Open()
	if err != nil {
		return "", provenance.ConfigurationError("fingerprint", "open key enclave: %v", err)
	}
	defer buf.Destroy()

	material := make([]byte, 0, len(fingerprintDomain)+buf.Size())
	material = append(material, fingerprintDomain...)
	material = append(material, buf.Bytes()...)
	sum := blake3.Sum256(material)
	memguard.WipeBytes(material)
	return hex.EncodeToString(sum[:8]), nil
}

const fingerprintDomain = "bmde envelope key fingerprint\x00"

func (e *Envelope) block(op string) (cipher.Block, func(), error) {
	if e == nil || e.key == nil {
		return nil, nil, provenance.ConfigurationError(op, "envelope has no encryption key")
	}
	buf, err := e.key.Open()
	if err != nil {
		return nil, nil, provenance.ConfigurationError(op, "open key enclave: %v", err)
	}
	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		buf.Destroy()
		return nil, nil, provenance.ConfigurationError(op, "%v", err)
	}
	return block, buf.Destroy, nil
}

func pad(in []byte, size int) []byte {
	n := size - len(in)%size
	out := make([]byte, len(in), len(in)+n)
	copy(out, in)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(in []byte, size int) ([]byte, error) {
	if len(in) == 0 || len(in)%size != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(in))
	}
	n := int(in[len(in)-1])
	if n == 0 || n > size || n > len(in) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range in[len(in)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return in[:len(in)-n], nil
}
