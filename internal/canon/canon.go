// Package canon provides the deterministic serialization and content hashing
// every stable identifier in the kernel is derived from.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// #region digest

// Digest is a full-length sha256 content identity.
type Digest [sha256.Size]byte

// ShortLen is the number of hex characters kept by Short.
const ShortLen = 16

// Hex returns the lowercase hex encoding of the full digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Short returns the truncated content address used for artifact references.
func (d Digest) Short() string {
	return d.Hex()[:ShortLen]
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Hex()
}

// MarshalText encodes the digest as hex; the zero digest encodes as "".
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts the output of MarshalText.
func (d *Digest) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Digest{}
		return nil
	}
	parsed, err := ParseDigest(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a full-length hex digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("decode digest: %w", err)
	}
	if len(raw) != len(d) {
		return d, fmt.Errorf("decode digest: want %d bytes, got %d", len(d), len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// #endregion digest

// #region canonicalize

// ErrInvalidUTF8 is returned for values holding strings that are not valid
// UTF-8. Such strings would otherwise be replaced by U+FFFD and collide.
var ErrInvalidUTF8 = errors.New("canonicalize: invalid UTF-8 in string")

// Canonicalize returns the canonical byte form of v: object keys in
// lexicographic order, no insignificant whitespace, UTF-8, numbers in their
// shortest form. Arrays keep declaration order.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	if replacedInvalidUTF8(raw) {
		return nil, ErrInvalidUTF8
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	normalized, err := normalizeNumbers(generic)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// replacedInvalidUTF8 reports whether raw contains the \ufffd escape.
// encoding/json writes a valid U+FFFD as raw bytes and only escapes the
// replacement it substitutes for an invalid byte.
func replacedInvalidUTF8(raw []byte) bool {
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' {
			continue
		}
		if i+5 < len(raw) && raw[i+1] == 'u' && string(raw[i+2:i+6]) == "fffd" {
			return true
		}
		i++
	}
	return false
}

// normalizeNumbers rewrites json.Number leaves so that 1, 1.0 and 1e0 share
// one canonical spelling.
func normalizeNumbers(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			n, err := normalizeNumbers(child)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case []any:
		for i, child := range t {
			n, err := normalizeNumbers(child)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("canonicalize number %q: %w", s, err)
		}
		if f == float64(int64(f)) && f >= -(1<<53) && f <= 1<<53 {
			return int64(f), nil
		}
		return f, nil
	default:
		return v, nil
	}
}

// #endregion canonicalize

// #region hashing

// ContentHash hashes the canonical form of v.
func ContentHash(v any) (Digest, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return Digest{}, err
	}
	return sha256.Sum256(b), nil
}

// MustContentHash is ContentHash for values known to be serializable.
func MustContentHash(v any) Digest {
	d, err := ContentHash(v)
	if err != nil {
		panic(err)
	}
	return d
}

// HashBytes hashes raw bytes that are already canonical.
func HashBytes(b []byte) Digest {
	return sha256.Sum256(b)
}

// Chain computes H(parts[0] ∥ parts[1] ∥ …) over raw bytes. Digests are
// fixed-length so only the final part may vary in size unambiguously.
func Chain(parts ...[]byte) Digest {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// ChainDigests is Chain over digests only.
func ChainDigests(parts ...Digest) Digest {
	raw := make([][]byte, len(parts))
	for i := range parts {
		raw[i] = parts[i][:]
	}
	return Chain(raw...)
}

// #endregion hashing
