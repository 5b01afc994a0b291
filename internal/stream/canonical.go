package stream

import (
	"crypto/sha256"
	"encoding/hex"
)

// canonicalBytes returns the exact byte string the hash chain is computed
// over: the sequence-bearing entry serialized without its _integrity field.
// encoding/json gives us a deterministic encoding for free here because (a)
// struct fields always serialize in declaration order and (b) map keys
// (toolParams, metadata) are sorted lexically by the standard encoder. The
// validator must use this exact function to recompute hashes; see
// internal/integrity.
func canonicalBytes(a Action) ([]byte, error) {
	a.Integrity = nil
	return marshalLine(a)
}

// computeHash returns hex(SHA256(canonical_json(entry without _integrity)
// ++ previous)).
func computeHash(a Action, previous string) (string, error) {
	body, err := canonicalBytes(a)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(body)
	h.Write([]byte(previous))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeHash exposes computeHash to internal/integrity, which must
// recompute each entry's hash with the writer's exact serialization rule
// for verification to mean anything.
func ComputeHash(a Action, previous string) (string, error) {
	return computeHash(a, previous)
}
