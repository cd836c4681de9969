package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainBatch    = "relgraph/batch/v1"
	DomainSnapshot = "relgraph/snapshot/v1"
	DomainSchema   = "relgraph/schema/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// BatchID computes the content-addressed id of a committed batch.
// The same operations at the same seq always produce the same id, so
// journaling a batch twice is a no-op.
func BatchID(seq int64, ops []Op) (string, error) {
	encoded := make(IRArray, len(ops))
	for i, op := range ops {
		encoded[i] = op.Object()
	}
	canonical, err := MarshalCanonical(IRObject{
		"seq": IRInt(seq),
		"ops": encoded,
	})
	if err != nil {
		return "", fmt.Errorf("BatchID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainBatch, canonical), nil
}

// SnapshotHash hashes the encoded bytes of a snapshot.
func SnapshotHash(encoded []byte) string {
	return hashWithDomain(DomainSnapshot, encoded)
}

// SchemaHash identifies a set of model declarations.
func SchemaHash(models []ModelSpec) (string, error) {
	arr := make(IRArray, len(models))
	for i, m := range models {
		arr[i] = m.Object()
	}
	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("SchemaHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSchema, canonical), nil
}
