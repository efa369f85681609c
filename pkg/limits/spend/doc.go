// Package spend tracks per-entity spend limits with reserve, commit and
// release semantics.
//
// # Reservations
//
// CheckAndReserve places an in-memory hold against an entity's limit for one
// scope. The hold counts against the limit until it is committed (moved into
// persisted usage), released, or expires after the reservation TTL. Holds are
// never persisted, so a crashed process cannot leave a stuck hold behind.
//
//	res, err := tracker.CheckAndReserve(ctx, "ent-42", model.ScopeDaily, amount)
//	if err != nil {
//	    return err // storage failure
//	}
//	if !res.OK {
//	    // reject: res.Remaining is what was left
//	}
//	...
//	err = tracker.Commit(ctx, res.ID)
//
// # Windows
//
// Daily windows reset at midnight and monthly windows at 00:00 on the 1st,
// both in the entity's configured time zone. Rollover is lazy: it happens
// when a limit is next read or written. The perTransaction scope never
// accumulates usage and only compares each amount against the limit.
//
// # Concurrency
//
// Check-and-reserve for one (entity, scope) pair is serialized by a
// dedicated mutex, so concurrent reservations never exceed the limit.
package spend
