package security

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	envelopePrefix    = "ticketmail.token.v1:"
	envelopeAlgorithm = "aes-256-gcm"
)

// envelope is the stored form of one sealed token. Sealed carries the
// nonce followed by the GCM output.
type envelope struct {
	KeyID     string `json:"kid"`
	Version   int    `json:"ver"`
	Algorithm string `json:"alg"`
	Sealed    string `json:"sealed"`
}

type EnvelopeMetadata struct {
	KeyID     string
	Version   int
	Algorithm string
}

// ParseEnvelopeMetadata reads the key identity of a sealed token without
// decrypting it. Used when deciding which tokens need re-encryption.
func ParseEnvelopeMetadata(ciphertext []byte) (EnvelopeMetadata, error) {
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return EnvelopeMetadata{KeyID: env.KeyID, Version: env.Version, Algorithm: env.Algorithm}, nil
}

// additionalData binds the key identity into the GCM tag so the metadata
// cannot be swapped.
func (e envelope) additionalData() []byte {
	return []byte(e.KeyID + ":" + strconv.Itoa(e.Version) + ":" + e.Algorithm)
}

func sealEnvelope(env envelope, nonce []byte, sealed []byte) ([]byte, error) {
	payload := make([]byte, 0, len(nonce)+len(sealed))
	payload = append(payload, nonce...)
	payload = append(payload, sealed...)
	env.Sealed = base64.RawURLEncoding.EncodeToString(payload)

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), data...), nil
}

func decodeEnvelope(ciphertext []byte) (envelope, error) {
	payload, ok := strings.CutPrefix(strings.TrimSpace(string(ciphertext)), envelopePrefix)
	if !ok {
		if len(ciphertext) == 0 {
			return envelope{}, fmt.Errorf("security: ciphertext is required")
		}
		return envelope{}, fmt.Errorf("security: invalid ciphertext envelope prefix")
	}
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return envelope{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	env.KeyID = strings.TrimSpace(env.KeyID)
	env.Algorithm = strings.ToLower(strings.TrimSpace(env.Algorithm))
	if env.Sealed == "" {
		return envelope{}, fmt.Errorf("security: envelope payload is required")
	}
	return env, nil
}

// split separates the nonce from the GCM output.
func (e envelope) split(nonceSize int) ([]byte, []byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(e.Sealed)
	if err != nil {
		return nil, nil, fmt.Errorf("security: decode envelope payload: %w", err)
	}
	if len(raw) <= nonceSize {
		return nil, nil, fmt.Errorf("security: envelope payload is truncated")
	}
	return raw[:nonceSize], raw[nonceSize:], nil
}
