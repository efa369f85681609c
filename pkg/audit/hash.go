package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// hashPayload is the canonical form a record hash is computed over. Empty
// slices are normalized to nil so a record hashes the same before and after
// a storage round trip.
type hashPayload struct {
	ID                 string          `json:"id"`
	TransactionID      string          `json:"transactionId"`
	EntityID           string          `json:"entityId"`
	Outcome            string          `json:"outcome"`
	FailureCode        string          `json:"failureCode"`
	RequiredSignatures int             `json:"requiredSignatures"`
	TimeDelaySeconds   int             `json:"timeDelaySeconds"`
	ApproverRoles      []string        `json:"approverRoles"`
	TriggeredRuleIDs   []string        `json:"triggeredRuleIds"`
	TriggeredPolicyIDs []string        `json:"triggeredPolicyIds"`
	Reasons            []string        `json:"reasons"`
	Actions            []ActionSummary `json:"actions"`
	Actor              string          `json:"actor"`
	Timestamp          string          `json:"timestamp"`
	SnapshotVersion    int64           `json:"snapshotVersion"`
	PrevHash           string          `json:"prevHash"`
}

// HashContent returns the hex SHA-256 digest of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ComputeHash returns the chained hash of r. The Hash field itself is ignored.
func ComputeHash(r *Record) (string, error) {
	p := hashPayload{
		ID:                 r.ID,
		TransactionID:      r.TransactionID,
		EntityID:           r.EntityID,
		Outcome:            r.Outcome,
		FailureCode:        r.FailureCode,
		RequiredSignatures: r.RequiredSignatures,
		TimeDelaySeconds:   r.TimeDelaySeconds,
		ApproverRoles:      nilIfEmpty(r.ApproverRoles),
		TriggeredRuleIDs:   nilIfEmpty(r.TriggeredRuleIDs),
		TriggeredPolicyIDs: nilIfEmpty(r.TriggeredPolicyIDs),
		Reasons:            nilIfEmpty(r.Reasons),
		Actor:              r.Actor,
		Timestamp:          r.Timestamp.UTC().Format(time.RFC3339Nano),
		SnapshotVersion:    r.SnapshotVersion,
		PrevHash:           r.PrevHash,
	}
	if len(r.Actions) > 0 {
		p.Actions = r.Actions
	}

	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode record %s: %w", r.ID, err)
	}
	return HashContent(b), nil
}

// VerifyChain checks records given oldest first. The first record's PrevHash
// is trusted as the anchor, so a trail whose head was pruned still verifies.
func VerifyChain(records []*Record) error {
	for i, r := range records {
		want, err := ComputeHash(r)
		if err != nil {
			return err
		}
		if r.Hash != want {
			return &ChainError{Index: i, RecordID: r.ID, Reason: "hash does not match content"}
		}
		if i > 0 && r.PrevHash != records[i-1].Hash {
			return &ChainError{Index: i, RecordID: r.ID, Reason: "previous hash does not match"}
		}
	}
	return nil
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
