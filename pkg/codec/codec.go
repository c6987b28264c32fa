// Package codec implements tinychain's canonical serialization and the
// sha256d hashing primitive. Every domain value that must be hashed,
// signed, or sent over the wire round-trips through Marshal/Unmarshal,
// which wrap encoding/json: struct fields serialize in declared order
// (never map iteration order), so equal values always produce identical
// bytes.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HexBytes is a byte string that marshals as lowercase hex instead of
// JSON's default base64, matching the wire format's hex-encoded
// byte-string fields.
type HexBytes []byte

// MarshalJSON renders the bytes as a lowercase hex string.
func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

// UnmarshalJSON parses a lowercase (or uppercase) hex string.
func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = nil
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("codec: decode hex field: %w", err)
	}
	*h = b
	return nil
}

// String returns the lowercase hex representation.
func (h HexBytes) String() string {
	return hex.EncodeToString(h)
}

// Equal reports whether two HexBytes hold identical contents.
func (h HexBytes) Equal(other HexBytes) bool {
	return bytes.Equal(h, other)
}

// Marshal produces the canonical encoding of v: declared-field-order JSON
// with no trailing whitespace.
func Marshal(v any) ([]byte, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return buf, nil
}

// Unmarshal decodes the canonical encoding back into v.
func Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}

// SHA256D computes SHA256(SHA256(x)), the double hash used for every
// identity (txid, block id) in the system.
func SHA256D(x []byte) []byte {
	first := sha256.Sum256(x)
	second := sha256.Sum256(first[:])
	return second[:]
}

// SHA256DHex computes SHA256D and renders it as lowercase hex, the form
// used for txids and block ids.
func SHA256DHex(x []byte) string {
	return hex.EncodeToString(SHA256D(x))
}

// Envelope is the self-describing wire wrapper every peer message travels
// in: a type tag plus the raw canonical encoding of the payload, the
// direct analog of tinychain's `_type` discriminator. The dispatcher reads
// Type before deciding which Go type to Unmarshal Payload into.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps v in an Envelope tagged typeName and returns its canonical
// bytes.
func Encode(typeName string, v any) ([]byte, error) {
	payload, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return Marshal(Envelope{Type: typeName, Payload: payload})
}

// DecodeEnvelope reads just the envelope, leaving Payload undecoded until
// the caller knows which concrete type to target.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		return Envelope{}, &DecodeError{Err: err}
	}
	return env, nil
}

// DecodeError marks a malformed wire payload. Handlers log and drop on
// this error rather than aborting the connection's goroutine abnormally.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: malformed message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
