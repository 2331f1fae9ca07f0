package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// GenesisHash is the previous_hash of the first entry in every chain scope.
const GenesisHash = "GENESIS"

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PayloadDigest canonicalizes payload and returns the canonical bytes and
// their digest. The canonical bytes are what gets persisted, so a later
// verification recomputes the digest from exactly the stored text.
func PayloadDigest(payload map[string]any) (canonical []byte, digest string, err error) {
	if payload == nil {
		payload = map[string]any{}
	}
	canonical, err = MarshalCanonical(payload)
	if err != nil {
		return nil, "", fmt.Errorf("payload digest: %w", err)
	}
	return canonical, Digest(canonical), nil
}

// AuditEnvelope builds the object that is hashed into the chain for an entry.
// Every field that identifies the entry is included so that rewriting any
// column (not only the payload) breaks the chain.
func AuditEnvelope(e AuditEntry) map[string]any {
	return map[string]any{
		"v":              AuditFormatVersion,
		"scope_id":       e.ScopeID,
		"seq":            e.Seq,
		"event_type":     string(e.EventType),
		"actor":          e.Actor,
		"subject_id":     e.SubjectID,
		"payload_digest": e.PayloadDigest,
		"recorded_at":    e.RecordedAt.UTC().UnixNano(),
	}
}

// ChainHash computes SHA-256(canonical envelope || previousHash).
func ChainHash(e AuditEntry, previousHash string) (string, error) {
	canonical, err := MarshalCanonical(AuditEnvelope(e))
	if err != nil {
		return "", fmt.Errorf("chain hash: %w", err)
	}
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustChainHash is like ChainHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustChainHash(e AuditEntry, previousHash string) string {
	h, err := ChainHash(e, previousHash)
	if err != nil {
		panic(err)
	}
	return h
}
