package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Role is the purpose a lease is granted for.
type Role int

const (
	RolePreview Role = iota + 1
	RoleCapture
)

func (r Role) String() string {
	switch r {
	case RolePreview:
		return "preview"
	case RoleCapture:
		return "capture"
	default:
		return "none"
	}
}

// Preemptible is implemented by lease holders that can hand the camera over
// to a capture and take it back afterwards.
type Preemptible interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Stopper is implemented by holders that can be shut down when a paused
// preview is not resumed.
type Stopper interface {
	Stop()
}

// Lease is the right to use the camera for one role.
type Lease struct {
	id     uint64
	role   Role
	holder Preemptible
	// paused is the preview lease this capture pre-empted.
	paused *Lease
}

func (l *Lease) Role() Role {
	return l.role
}

func (l *Lease) ID() uint64 {
	return l.id
}

// Arbiter grants at most one camera lease at a time. A capture request
// pre-empts a running preview; everything else waits for the holder.
type Arbiter struct {
	releaseTimeout time.Duration
	resumeTimeout  time.Duration
	resume         bool

	mu         sync.Mutex
	current    *Lease
	preempting bool
	changed    chan struct{}
	nextID     uint64
	resumes    sync.WaitGroup
}

type ArbiterOption func(*Arbiter)

// WithoutResume stops a pre-empted preview instead of resuming it once the capture is released.
func WithoutResume() ArbiterOption {
	return func(a *Arbiter) {
		a.resume = false
	}
}

// WithResumeTimeout bounds the asynchronous resume of a pre-empted preview.
func WithResumeTimeout(d time.Duration) ArbiterOption {
	return func(a *Arbiter) {
		a.resumeTimeout = d
	}
}

// NewArbiter creates an arbiter that gives a preempted holder releaseTimeout to pause.
func NewArbiter(releaseTimeout time.Duration, opts ...ArbiterOption) *Arbiter {
	a := &Arbiter{
		releaseTimeout: releaseTimeout,
		resumeTimeout:  10 * time.Second,
		resume:         true,
		changed:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Acquire blocks until a lease for role can be granted or ctx is done.
func (a *Arbiter) Acquire(ctx context.Context, role Role, holder Preemptible) (*Lease, error) {
	for {
		a.mu.Lock()
		cur := a.current
		switch {
		case cur == nil && !a.preempting:
			l := a.grant(role, holder, nil)
			a.mu.Unlock()
			return l, nil
		case role == RolePreview && cur != nil && cur.role == RolePreview:
			a.mu.Unlock()
			return nil, ErrLeaseHeld
		case role == RoleCapture && cur != nil && cur.role == RolePreview && !a.preempting:
			a.preempting = true
			a.mu.Unlock()
			return a.preempt(ctx, cur, holder)
		}
		wait := a.changed
		a.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (a *Arbiter) preempt(ctx context.Context, preview *Lease, holder Preemptible) (*Lease, error) {
	pauseCtx, cancel := context.WithTimeout(ctx, a.releaseTimeout)
	defer cancel()

	var err error
	if preview.holder != nil {
		err = preview.holder.Pause(pauseCtx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.preempting = false

	if err != nil {
		a.abandon(preview)
		a.broadcast()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrResourceBusyTimeout, err)
	}

	// The preview may have been stopped while it was pausing.
	paused := preview
	if a.current != preview {
		paused = nil
	}
	slog.Debug("Preview pre-empted by capture", "preview_lease", preview.id)
	return a.grant(RoleCapture, holder, paused), nil
}

// abandon settles a preview whose pause did not finish: a Stopper holder is
// shut down and loses its lease, anything else is resumed in place.
// Must be called with mu held.
func (a *Arbiter) abandon(preview *Lease) {
	holder := preview.holder
	if holder == nil {
		return
	}
	stopper, canStop := holder.(Stopper)
	if canStop && a.current == preview {
		a.current = nil
	}
	slog.Warn("Pre-empted preview did not pause in time", "preview_lease", preview.id, "stop", canStop)

	a.resumes.Add(1)
	go func() {
		defer a.resumes.Done()
		if canStop {
			stopper.Stop()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.resumeTimeout)
		defer cancel()
		if err := holder.Resume(ctx); err != nil {
			slog.Warn("Failed to resume preview after aborted pre-emption, dropping lease", "error", err)
			_ = a.Release(preview)
		}
	}()
}

// grant must be called with mu held.
func (a *Arbiter) grant(role Role, holder Preemptible, paused *Lease) *Lease {
	a.nextID++
	l := &Lease{id: a.nextID, role: role, holder: holder, paused: paused}
	a.current = l
	a.broadcast()
	return l
}

// broadcast wakes every waiter. Must be called with mu held.
func (a *Arbiter) broadcast() {
	close(a.changed)
	a.changed = make(chan struct{})
}

// Release frees the lease. Releasing a capture that pre-empted a preview
// hands the camera back to the preview and resumes it in the background.
func (a *Arbiter) Release(l *Lease) error {
	a.mu.Lock()
	if l == nil || a.current != l {
		a.mu.Unlock()
		return ErrStaleLease
	}
	a.current = nil

	paused := l.paused
	l.paused = nil
	if paused != nil && a.resume {
		a.current = paused
	}
	a.broadcast()
	a.mu.Unlock()

	if paused == nil || paused.holder == nil {
		return nil
	}

	a.resumes.Add(1)
	go func() {
		defer a.resumes.Done()
		if !a.resume {
			if s, ok := paused.holder.(Stopper); ok {
				s.Stop()
			}
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.resumeTimeout)
		defer cancel()
		if err := paused.holder.Resume(ctx); err != nil {
			slog.Warn("Failed to resume preview after capture, dropping lease", "error", err)
			_ = a.Release(paused)
		}
	}()
	return nil
}

// Holder reports the role of the current lease.
func (a *Arbiter) Holder() (Role, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return 0, false
	}
	return a.current.role, true
}

// Current reports whether l is the lease currently granted.
func (a *Arbiter) Current(l *Lease) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return l != nil && a.current == l
}

// Wait blocks until background resumes have finished.
func (a *Arbiter) Wait() {
	a.resumes.Wait()
}
