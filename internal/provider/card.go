package provider

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"ubipay/pkg/errors"

	"golang.org/x/crypto/hkdf"
)

// CardDetails is the sensitive card payload. It must never be logged or
// persisted in clear.
type CardDetails struct {
	PAN         string `json:"pan"`
	CVV         string `json:"cvv"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	Holder      string `json:"holder,omitempty"`
}

// CardEncryptor seals card payloads with AES-256-GCM. The cipher key and the
// fingerprint key are both derived from out-of-band key material with
// HKDF-SHA256.
type CardEncryptor struct {
	aead    cipher.AEAD
	hmacKey []byte
}

func NewCardEncryptor(keyMaterial, keyContext string) (*CardEncryptor, error) {
	if len(keyMaterial) < 32 {
		return nil, fmt.Errorf("card encryption key must be at least 32 bytes")
	}

	kdf := hkdf.New(sha256.New, []byte(keyMaterial), nil, []byte(keyContext))
	encKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, encKey); err != nil {
		return nil, errors.Wrap(err, "failed to derive encryption key")
	}
	hmacKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, hmacKey); err != nil {
		return nil, errors.Wrap(err, "failed to derive fingerprint key")
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &CardEncryptor{aead: aead, hmacKey: hmacKey}, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (e *CardEncryptor) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *CardEncryptor) Decrypt(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	n := e.aead.NonceSize()
	if len(data) < n {
		return nil, fmt.Errorf("ciphertext too short")
	}
	return e.aead.Open(nil, data[:n], data[n:], nil)
}

func (e *CardEncryptor) EncryptCard(card CardDetails) (string, error) {
	data, err := json.Marshal(card)
	if err != nil {
		return "", err
	}
	return e.Encrypt(data)
}

func (e *CardEncryptor) DecryptCard(encoded string) (*CardDetails, error) {
	data, err := e.Decrypt(encoded)
	if err != nil {
		return nil, err
	}
	var card CardDetails
	if err := json.Unmarshal(data, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// Fingerprint is a deterministic keyed hash of a PAN, usable as a device-like
// identifier for risk checks without storing the number.
func (e *CardEncryptor) Fingerprint(pan string) string {
	h := hmac.New(sha256.New, e.hmacKey)
	h.Write([]byte(pan))
	return hex.EncodeToString(h.Sum(nil))
}

// CardAdapter is an Adapter that encrypts card details before they leave
// the process.
type CardAdapter struct {
	Adapter
	encryptor *CardEncryptor
}

func NewCardAdapter(next Adapter, encryptor *CardEncryptor) *CardAdapter {
	return &CardAdapter{Adapter: next, encryptor: encryptor}
}

func (a *CardAdapter) CreateCardPayment(ctx context.Context, req PaymentRequest, card CardDetails) (*PaymentResponse, error) {
	sealed, err := a.encryptor.EncryptCard(card)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt card payload")
	}
	req.Card = sealed
	return a.Adapter.CreatePayment(ctx, req)
}
