// Package model defines the data types shared by every stage of transaction
// authorization: rules and their conditions and actions, multisig policies,
// spend limit state, decisions and the error taxonomy.
//
// # Priority Scales
//
// Two priority scales coexist and must not be mixed:
//
//   - RulePriority: higher values are more urgent.
//   - PolicyPriority: lower values are more urgent (0 = Emergency, 4 = Low).
//
// # Validation
//
// ValidateRule and ValidatePolicy are applied on every administrative write.
// They return a *ValidationError listing every offending field, with condition
// and action indexes, so malformed conditions and actions never reach evaluation.
package model
