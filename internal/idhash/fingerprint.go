package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeArtifactFingerprint returns the base58-encoded SHA256 of an artifact.
func ComputeArtifactFingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return base58.Encode(sum[:])
}

// ParseArtifactFingerprint decodes a fingerprint back to its 32-byte digest.
func ParseArtifactFingerprint(fp string) ([]byte, error) {
	digest, err := base58.Decode(fp)
	if err != nil {
		return nil, fmt.Errorf("decode fingerprint: %w", err)
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("fingerprint has %d bytes, want %d", len(digest), sha256.Size)
	}
	return digest, nil
}

// MatchArtifactFingerprint reports whether data hashes to fp.
func MatchArtifactFingerprint(data []byte, fp string) (bool, error) {
	want, err := ParseArtifactFingerprint(fp)
	if err != nil {
		return false, err
	}
	got := sha256.Sum256(data)
	return string(got[:]) == string(want), nil
}
