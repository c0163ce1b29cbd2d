//go:build !tinygo

package core

// State is the saved interrupt state on hosted Go
type State uintptr

// disableInterrupts is a no-op on hosted Go. The simulator delivers events
// from its own goroutine, so shared driver state relies on atomics and locks.
func disableInterrupts() State {
	return 0
}

// restoreInterrupts is a no-op on hosted Go
func restoreInterrupts(state State) {
	_ = state
}
