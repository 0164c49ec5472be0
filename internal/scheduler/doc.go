// Package scheduler fires stored notification schedules on time.
//
// A Manager mirrors the store in an in-memory index and keeps exactly one
// alarm armed for the soonest pending fire time. On each wake it fires every
// due entry through the presenter (outside its lock), then reschedules or
// removes each one and re-arms.
//
// All mutations (Add, Remove, RemoveAll, wake bookkeeping) are serialized by
// a single mutex; presenter calls never run while it is held.
package scheduler
