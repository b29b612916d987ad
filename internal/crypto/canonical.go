package crypto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/asurechain/ledger/pkg/types"
)

// ErrInvalidPayload is returned for payloads that cannot be canonically encoded
var ErrInvalidPayload = errors.New("invalid payload")

// CanonicalPayload encodes a payload as RFC 8785 canonical JSON:
// lexicographically sorted keys, ES6 number formatting, no insignificant whitespace.
func CanonicalPayload(payload types.Payload) ([]byte, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	return Canonicalize(payload)
}

// Canonicalize encodes any JSON-serializable value as canonical JSON
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return canonical, nil
}

// Fingerprint returns the hex SHA-256 of the canonical encoding of v
func Fingerprint(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashHex(canonical), nil
}
