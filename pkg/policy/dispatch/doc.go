// Package dispatch carries out the side effects of a resolved decision and
// writes its audit record.
//
// Actions are dispatched in a fixed order:
//
//  1. block or escalate (an escalation requests approval and fails closed
//     to block when the request cannot be made)
//  2. flag
//  3. notify (queued to a bounded worker pool, never changes the decision)
//  4. setLimit (deduplicated per rule and transaction)
//  5. approve confirmation
//
// Exactly one audit record is written per Dispatch, after the decision has
// reached its final outcome.
package dispatch
