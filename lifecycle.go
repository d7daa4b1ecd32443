package bucketvision

import (
	"context"
	"sync"
)

// State is the lifecycle state of a loop driven component.
type State int32

// Lifecycle states, in the order a component moves through them.
const (
	Created State = iota
	Starting
	Running
	StopRequested
	Stopped
)

var stateNames = [...]string{"created", "starting", "running", "stop-requested", "stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Lifecycle tracks the state of a component that runs a loop on its own
// goroutine. The zero value is a Lifecycle in state Created.
//
// The owner calls Begin when starting the goroutine, MarkRunning once the
// loop is entered, and MarkStopped when the loop has exited and released its
// resources. Others call RequestStop, and may either poll IsStopped or block
// in WaitRunning and WaitStopped.
type Lifecycle struct {
	mu      sync.Mutex
	state   State
	ran     bool
	running chan struct{} // Closed on Running.
	stopped chan struct{} // Closed on Stopped.
}

func (l *Lifecycle) init() {
	if l.running == nil {
		l.running = make(chan struct{})
		l.stopped = make(chan struct{})
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Begin moves from Created to Starting. Begin returns ErrAlreadyStarted in
// any other state.
func (l *Lifecycle) Begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.init()
	if l.state != Created {
		return ErrAlreadyStarted
	}
	l.state = Starting
	return nil
}

// MarkRunning moves from Starting to Running. If a stop was requested while
// starting, the state is left alone.
func (l *Lifecycle) MarkRunning() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.init()
	if l.state != Starting {
		return
	}
	l.state = Running
	l.ran = true
	close(l.running)
}

// RequestStop asks the loop to exit. A component that was never started goes
// to Stopped immediately.
func (l *Lifecycle) RequestStop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.init()
	switch l.state {
	case Created:
		l.state = Stopped
		close(l.stopped)
	case Starting, Running:
		l.state = StopRequested
	}
}

// MarkStopped moves to Stopped. Called by the loop after it exited.
func (l *Lifecycle) MarkStopped() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.init()
	if l.state == Stopped {
		return
	}
	l.state = Stopped
	close(l.stopped)
}

// StopRequested returns whether the loop should exit.
func (l *Lifecycle) StopRequested() bool {
	s := l.State()
	return s == StopRequested || s == Stopped
}

// IsRunning returns whether the component is in state Running.
func (l *Lifecycle) IsRunning() bool {
	return l.State() == Running
}

// IsStopped returns whether the component is in state Stopped. Safe to poll
// from any goroutine.
func (l *Lifecycle) IsStopped() bool {
	return l.State() == Stopped
}

func (l *Lifecycle) channels() (running, stopped chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.init()
	return l.running, l.stopped
}

// WaitRunning blocks until the component is running, or it stopped. If it
// stopped without ever running, WaitRunning returns ErrStopped. If ctx is
// done first, its error is returned.
func (l *Lifecycle) WaitRunning(ctx context.Context) error {
	running, stopped := l.channels()
	select {
	case <-running:
		return nil
	case <-stopped:
		l.mu.Lock()
		ran := l.ran
		l.mu.Unlock()
		if ran {
			return nil
		}
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitStopped blocks until the component is stopped, or ctx is done.
func (l *Lifecycle) WaitStopped(ctx context.Context) error {
	_, stopped := l.channels()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed when the component is stopped.
func (l *Lifecycle) Done() <-chan struct{} {
	_, stopped := l.channels()
	return stopped
}
