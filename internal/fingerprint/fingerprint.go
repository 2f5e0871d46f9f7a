// Package fingerprint computes content digests for documents.
//
// A Digest is the SHA-256 of the exact document bytes. Two documents with
// equal digests are treated as the same document.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
)

// Size is the length of a Digest in bytes.
const Size = sha256.Size

// ErrMalformedDigest is returned by ParseHex for anything that is not
// exactly 64 lowercase hex characters.
var ErrMalformedDigest = errors.New("digest must be 64 lowercase hex characters")

var hexDigestRE = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Digest is a fixed-width content fingerprint.
type Digest [Size]byte

// Sum returns the digest of b. An empty slice yields the digest of "".
func Sum(b []byte) Digest {
	return Digest(sha256.Sum256(b))
}

// SumReader streams r into the hash. It fails only if reading fails.
func SumReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, fmt.Errorf("read content: %w", err)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// ParseHex decodes a 64-character lowercase hex digest.
func ParseHex(s string) (Digest, error) {
	if !hexDigestRE.MatchString(s) {
		return Digest{}, ErrMalformedDigest
	}
	var d Digest
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return Digest{}, ErrMalformedDigest
	}
	return d, nil
}

// FromBytes copies a raw 32-byte digest.
func FromBytes(b []byte) (Digest, error) {
	if len(b) != Size {
		return Digest{}, fmt.Errorf("digest must be %d bytes, got %d", Size, len(b))
	}
	var d Digest
	copy(d[:], b)
	return d, nil
}

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Bytes returns a copy of the raw digest.
func (d Digest) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, d[:])
	return out
}

// IsZero reports whether d is the zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseHex(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
