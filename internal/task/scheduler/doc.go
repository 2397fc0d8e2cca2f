// Package scheduler decides when each destination is due and dispatches runs.
//
// Daily holds the per-destination schedule state and answers "what is due
// now". Service owns the tick loop: it is the only goroutine that touches a
// Daily, and it hands each due destination to an independent supervised run.
package scheduler
