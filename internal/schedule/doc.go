// Package schedule describes one scheduled notification and its timing rule.
//
// A Model is the persisted record (interval or calendar kind plus an opaque
// payload). A Scheduler wraps a validated Model and answers "when does this
// fire next" as a pure function of the current time.
package schedule
