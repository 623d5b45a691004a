// Package session manages the lifecycle of voice chat sessions: durable
// records, the process-local runtime cache, quotas and time-based expiry.
//
// Invariants:
// - Message sequence numbers per session are contiguous and start at 0.
// - State transitions are monotone; nothing leaves EXPIRED or TERMINATED.
// - A session owned by someone else is indistinguishable from a missing one.
// - Expiry is enforced lazily on read and eventually by the sweeper, through
//   one shared idempotent transition.
//
// Usage:
//
//	mgr := session.NewManager(store, session.Options{SessionTTL: 24 * time.Hour})
//	s, _ := mgr.Create(ctx, "user-1", nil, nil)
//	active, _ := mgr.Connect(ctx, s.ID)
//	_ = active
package session
