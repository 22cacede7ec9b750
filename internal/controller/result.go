package controller

import "time"

// Result is the outcome of a single reconciliation attempt.
type Result struct {
	// Done is true when the resource needs no further work from this
	// invocation's point of view: it reached a steady phase, finished
	// deleting, or was halted as Failed.
	Done bool

	// RequeueAfter asks the watcher to revisit the resource after at
	// least this long. Zero means the default poll cadence applies.
	RequeueAfter time.Duration

	// Reason summarizes the outcome for logs and metrics.
	Reason string
}

// Complete marks the resource as fully reconciled.
func Complete() Result {
	return Result{Done: true}
}

// RequeueAfter asks for another pass after the given wait.
func RequeueAfter(d time.Duration, reason string) Result {
	return Result{RequeueAfter: d, Reason: reason}
}

// Failed marks the resource as terminally failed.
func Failed(reason string) Result {
	return Result{Done: true, Reason: reason}
}
