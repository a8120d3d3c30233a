package storage

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Checksum is the expected digest of one written chunk.
type Checksum struct {
	Algorithm string
	Sum       []byte
}

var checksumAlgorithms = map[string]func() hash.Hash{
	"md5":      md5.New,
	"sha1":     sha1.New,
	"sha256":   sha256.New,
	"sha512":   sha512.New,
	"sha3-256": sha3.New256,
	"blake2b-256": func() hash.Hash {
		h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
		return h
	},
}

// SupportedChecksums lists the algorithms in Tus-Checksum-Algorithm order.
func SupportedChecksums() []string {
	return []string{"sha1", "md5", "sha256", "sha512", "sha3-256", "blake2b-256"}
}

func NewHash(algorithm string) (hash.Hash, error) {
	newFn, ok := checksumAlgorithms[strings.ToLower(algorithm)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChecksum, algorithm)
	}
	return newFn(), nil
}

// ParseChecksum reads the Upload-Checksum form "<algorithm> <base64 digest>".
func ParseChecksum(s string) (*Checksum, error) {
	alg, enc, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok || alg == "" || enc == "" {
		return nil, fmt.Errorf("%w: malformed checksum %q", ErrUnsupportedChecksum, s)
	}
	if _, ok := checksumAlgorithms[strings.ToLower(alg)]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChecksum, alg)
	}
	sum, err := base64.StdEncoding.DecodeString(strings.TrimSpace(enc))
	if err != nil {
		return nil, fmt.Errorf("%w: bad digest encoding: %v", ErrUnsupportedChecksum, err)
	}
	return &Checksum{Algorithm: strings.ToLower(alg), Sum: sum}, nil
}

// Verify compares the digest accumulated in h with c.
func (c *Checksum) Verify(h hash.Hash) error {
	if got := h.Sum(nil); !bytes.Equal(got, c.Sum) {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, c.Algorithm)
	}
	return nil
}

// WriteOpts carries optional per-write checks.
type WriteOpts struct {
	Checksum *Checksum
}
