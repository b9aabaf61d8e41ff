package session

import "time"

// Observer receives session lifecycle and traffic notifications. Calls are
// made synchronously from manager goroutines and must not block.
type Observer interface {
	SessionStarted(id string)
	SessionStartFailed(err error)
	SessionExited(id string, exitCode int, lifetime time.Duration)
	SessionRemoved(id string)
	OutputBytes(id string, n int)
	InputBytes(id string, n int)
}

type nopObserver struct{}

func (nopObserver) SessionStarted(string)                    {}
func (nopObserver) SessionStartFailed(error)                 {}
func (nopObserver) SessionExited(string, int, time.Duration) {}
func (nopObserver) SessionRemoved(string)                    {}
func (nopObserver) OutputBytes(string, int)                  {}
func (nopObserver) InputBytes(string, int)                   {}
