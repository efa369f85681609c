// Package engine composes the rule store, spend limit tracker, multisig
// aggregator, conflict resolver and action dispatcher into a single
// Evaluate call.
//
// # Evaluation Flow
//
//	TransactionContext
//	       ↓
//	Snapshot (one rule set version for the whole call)
//	       ↓
//	Reserve spend scopes → spend.<scope>.usage|remaining|limit fields
//	       ↓
//	Derived fields
//	       ↓
//	Active rules in precedence order → RuleOutcomes
//	       ↓
//	Enforced multisig policies → Requirement
//	       ↓
//	Resolve (configured strategy)
//	       ↓
//	Settle reservations → Dispatch (side effects + audit) → Decision
//
// # Fail Closed
//
// Evaluate returns an error only for a malformed request. Anything that
// would make the decision ambiguous produces a block decision instead: a
// missing required field, an unsatisfiable multisig requirement, a spend
// limit that would be exceeded, a storage failure, a failed audit hand-off
// or a panic anywhere in the pipeline.
//
// # Reservations
//
// Spend reservations are settled when the decision is known. A block
// releases them. Approve and flag commit them when AutoCommit is set and
// hold them otherwise. Escalate always holds them until the approval
// workflow calls Confirm or Invalidate.
//
// # Basic Usage
//
//	eng, err := engine.New(engine.DefaultConfig(), engine.Dependencies{
//	    Rules:      ruleStore,
//	    Limits:     tracker,
//	    Dispatcher: dispatcher,
//	})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	decision, err := eng.Evaluate(ctx, &model.TransactionContext{
//	    TransactionID: "tx-1",
//	    EntityID:      "ent-42",
//	    Amount:        decimal.RequireFromString("150000.00"),
//	    Fields:        map[string]interface{}{"riskScore": 90},
//	})
package engine
