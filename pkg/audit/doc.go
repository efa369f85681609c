// Package audit defines the append-only audit trail written for every
// authorization decision.
//
// # Overview
//
// Each call to the action dispatcher produces exactly one Record. A record
// captures the outcome, the signature requirement, the rules and policies that
// fired, their reasons and the result of every dispatched action. Records are
// never updated once stored.
//
// Records are chained: Hash is a SHA-256 digest over the canonical JSON form
// of the record, and PrevHash holds the hash of the record written before it.
// VerifyChain detects a removed or altered record anywhere after the first one
// it is given. Retention pruning only removes the oldest records, so a pruned
// trail still verifies from its new head.
//
// # Subpackages
//
//   - recorder: asynchronous writer that assigns IDs, chains hashes and fans
//     records out to publishers
//   - storage: memory and SQLite backends
//   - retention: age and count based pruning on a cron schedule
//   - sink: Kafka publisher for downstream consumers
//
// # Querying
//
//	records, err := store.Query(ctx, &audit.Query{
//	    EntityID: "ent-42",
//	    Outcome:  "block",
//	    Limit:    50,
//	})
package audit
