// Package scheduler implements the hop state machine.
//
// A Service owns exactly one run state. It is Stopped, Running or Paused; while
// Running exactly one timer is armed. Each firing performs one hop (list pool,
// select, activate, record history) and re-arms at min(nextDelay, remaining) so a
// run never overruns its deadline.
//
// Control operations and timer firings are serialized on one mutex. Timer callbacks
// carry a generation; a callback whose generation was superseded by stop/pause/re-arm
// is ignored.
package scheduler
