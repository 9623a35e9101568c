package spdy

import (
	"sync"

	multierror "github.com/hashicorp/go-multierror"
)

type lifecycleState int

const (
	stateStopped lifecycleState = iota
	stateRunning
	stateStopping
)

// lifecycle is a start/stop capability implemented with an explicit list of
// registered shutdown hooks instead of inheritance chains. Hooks run in
// reverse registration order on stop, so owners register dependencies before
// dependents.
type lifecycle struct {
	mx        sync.Mutex
	state     lifecycleState
	stopHooks []func() error
}

func (l *lifecycle) isRunning() bool {
	l.mx.Lock()
	running := l.state == stateRunning
	l.mx.Unlock()
	return running
}

// onStop registers a shutdown hook. Hooks registered while running are still
// honored at stop time.
func (l *lifecycle) onStop(hook func() error) {
	l.mx.Lock()
	l.stopHooks = append(l.stopHooks, hook)
	l.mx.Unlock()
}

// start transitions stopped -> running. Starting twice is an error.
func (l *lifecycle) start() error {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.state != stateStopped {
		return log.Errorf("cannot start: not in stopped state")
	}
	l.state = stateRunning
	return nil
}

// stop transitions running -> stopping, runs before (the owner's own
// teardown, e.g. closing sessions), then the registered shutdown hooks in
// reverse order, then lands in stopped. Stop on a non-running lifecycle is a
// no-op.
func (l *lifecycle) stop(before func()) error {
	l.mx.Lock()
	if l.state != stateRunning {
		l.mx.Unlock()
		return nil
	}
	l.state = stateStopping
	hooks := make([]func() error, len(l.stopHooks))
	copy(hooks, l.stopHooks)
	l.mx.Unlock()

	if before != nil {
		before()
	}

	var result error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}

	l.mx.Lock()
	l.state = stateStopped
	l.mx.Unlock()
	return result
}
