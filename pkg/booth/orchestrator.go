package booth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wachiwi/potboy/pkg/camera"
	"github.com/wachiwi/potboy/pkg/event"
	"github.com/wachiwi/potboy/pkg/frame"
	"github.com/wachiwi/potboy/pkg/indicator"
	"github.com/wachiwi/potboy/pkg/uplink"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer          = otel.Tracer("github.com/wachiwi/potboy/pkg/booth")
	capturesCounter metric.Int64Counter
)

func init() {
	var err error
	meter := otel.Meter("github.com/wachiwi/potboy/pkg/booth")
	capturesCounter, err = meter.Int64Counter("booth.captures",
		metric.WithDescription("Capture triggers by result"),
		metric.WithUnit("{captures}"),
	)
	if err != nil {
		slog.Error("Failed to create booth metrics", "error", err)
	}
}

func countCapture(ctx context.Context, result string) {
	capturesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Arbiter *camera.Arbiter
	// NewSource creates the source for a preview session.
	NewSource   func() camera.Source
	Snapshotter camera.Snapshotter
	Uplink      Uplink
	Printer     Printer
	Signal      Signal
	Hub         *event.Hub
}

// Orchestrator serialises captures and owns the preview session. All state
// lives in one record guarded by mu.
type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup

	mu           sync.Mutex
	state        State
	lastCapture  time.Time
	session      *camera.Session
	previewLease *camera.Lease
	starting     bool
	closed       bool
}

func New(cfg Config, deps Deps) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	if deps.Uplink != nil {
		go o.forward(deps.Hub.Subscribe())
	}
	return o
}

// forward relays published events to the remote side in publish order.
func (o *Orchestrator) forward(obs *event.Observer) {
	for e := range obs.Events() {
		ctx, cancel := context.WithTimeout(o.ctx, o.cfg.NotifyTimeout)
		err := o.deps.Uplink.Notify(ctx, e)
		cancel()
		if err != nil && !errors.Is(err, uplink.ErrNotConnected) && !errors.Is(err, uplink.ErrClosed) {
			slog.Debug("Failed to forward event", "type", e.Type, "error", err)
		}
	}
	if obs.Dropped() {
		slog.Warn("Event forwarder fell behind and was dropped")
	}
}

// Capture starts a capture run unless one is running or the cooldown is active.
func (o *Orchestrator) Capture() Result {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Result{Outcome: OutcomeUnavailable, Message: "Booth is shutting down"}
	}
	if o.state != StateIdle {
		o.mu.Unlock()
		countCapture(o.ctx, "busy")
		return Result{Outcome: OutcomeBusy, Message: "Capture in progress", Err: ErrBusy}
	}
	if remaining := o.cooldownLocked(); remaining > 0 {
		o.mu.Unlock()
		countCapture(o.ctx, "cooldown")
		err := &CooldownError{Remaining: remaining}
		return Result{Outcome: OutcomeCooldown, Message: err.Error(), RetryAfter: err.Seconds(), Err: err}
	}
	o.state = StateCountdown
	o.runs.Add(1)
	o.mu.Unlock()

	go o.run()
	return accepted("Capture started")
}

func (o *Orchestrator) cooldownLocked() time.Duration {
	if o.lastCapture.IsZero() {
		return 0
	}
	return o.cfg.Cooldown - o.now().Sub(o.lastCapture)
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	slog.Debug("Booth state", "state", s)
}

func (o *Orchestrator) run() {
	defer o.runs.Done()

	ctx, span := tracer.Start(o.ctx, "booth.capture")
	defer span.End()

	printed := false
	defer func() {
		o.mu.Lock()
		o.state = StateIdle
		if printed {
			o.lastCapture = o.now()
		}
		o.mu.Unlock()
	}()

	if err := o.countdown(ctx); err != nil {
		o.fail(ctx, span, "countdown", err)
		return
	}

	o.setState(StateCapturing)
	photo, err := o.takePhoto(ctx)
	if err != nil {
		o.fail(ctx, span, "capture", err)
		return
	}
	span.SetAttributes(attribute.Int("photo.bytes", photo.Len()))

	o.setState(StateUploading)
	receipt, err := o.deps.Uplink.Send(ctx, photo)
	if err != nil {
		o.fail(ctx, span, "upload", err)
		return
	}
	o.deps.Hub.Publish(event.CaptureDone())

	o.setState(StatePrinting)
	// The booth did its job once the receipt is back; the cooldown applies from here.
	printed = true
	if err := o.deps.Printer.Print(ctx, receipt); err != nil {
		o.fail(ctx, span, "print", err)
		return
	}
	o.deps.Hub.Publish(event.PrintDone())
	countCapture(ctx, "printed")
	slog.Info("Capture complete")
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, stage string, err error) {
	slog.Error("Capture failed", "stage", stage, "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	countCapture(ctx, stage+"_failed")
	o.deps.Hub.Publish(event.Error(stage + " failed: " + err.Error()))
}

// countdown blinks once per tick and ends with the longer shutter beep.
func (o *Orchestrator) countdown(ctx context.Context) error {
	for i := o.cfg.CountdownTicks; i >= 1; i-- {
		o.deps.Hub.Publish(event.Countdown(i))
		start := time.Now()
		if err := o.pulse(ctx, indicator.CueTick, o.cfg.TickOn); err != nil {
			return err
		}
		if err := sleep(ctx, o.cfg.CountdownTick-time.Since(start)); err != nil {
			return err
		}
	}
	if err := o.pulse(ctx, indicator.CueShutter, o.cfg.ShutterBeep); err != nil {
		return err
	}
	o.deps.Hub.Publish(event.CaptureStart())
	return nil
}

// pulse only fails on cancellation; hardware errors are logged.
func (o *Orchestrator) pulse(ctx context.Context, cue indicator.Cue, d time.Duration) error {
	if o.deps.Signal == nil {
		return sleep(ctx, d)
	}
	if err := o.deps.Signal.Pulse(ctx, cue, d); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("Indicator pulse failed", "cue", cue, "error", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// takePhoto holds a capture lease only while the frame is taken.
func (o *Orchestrator) takePhoto(ctx context.Context) (frame.Frame, error) {
	lease, err := o.deps.Arbiter.Acquire(ctx, camera.RoleCapture, nil)
	if err != nil {
		return frame.Frame{}, err
	}
	defer func() {
		if err := o.deps.Arbiter.Release(lease); err != nil {
			slog.Warn("Failed to release capture lease", "error", err)
		}
	}()

	o.mu.Lock()
	session := o.session
	o.mu.Unlock()
	if session != nil {
		if f, ok := session.LatestFrame(o.cfg.FrameMaxAge); ok {
			slog.Info("Using preview frame as photo", "bytes", f.Len())
			return f, nil
		}
	}
	if o.deps.Snapshotter == nil {
		return frame.Frame{}, camera.ErrCameraUnavailable
	}
	return o.deps.Snapshotter.Snapshot(ctx)
}

// previewHolder lets the arbiter pause a session that is created after the
// lease. Pre-emption waits until the session has started or failed to start.
type previewHolder struct {
	ready   chan struct{}
	session *camera.Session
}

func newPreviewHolder() *previewHolder {
	return &previewHolder{ready: make(chan struct{})}
}

// set publishes the started session, or nil when it could not be started.
func (h *previewHolder) set(s *camera.Session) {
	h.session = s
	close(h.ready)
}

func (h *previewHolder) wait(ctx context.Context) (*camera.Session, error) {
	select {
	case <-h.ready:
		return h.session, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *previewHolder) Pause(ctx context.Context) error {
	s, err := h.wait(ctx)
	if err != nil || s == nil {
		return err
	}
	return s.Pause(ctx)
}

func (h *previewHolder) Resume(ctx context.Context) error {
	s, err := h.wait(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return camera.ErrSessionStopped
	}
	return s.Resume(ctx)
}

func (h *previewHolder) Stop() {
	<-h.ready
	if h.session != nil {
		h.session.Stop()
	}
}

// StartPreview opens the camera for live frames. It waits behind a running capture.
func (o *Orchestrator) StartPreview() Result {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Result{Outcome: OutcomeUnavailable, Message: "Booth is shutting down"}
	}
	if o.session != nil {
		select {
		case <-o.session.Done():
		default:
			o.mu.Unlock()
			return accepted("Preview already active")
		}
	}
	if o.starting {
		o.mu.Unlock()
		return accepted("Preview starting")
	}
	o.starting = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.starting = false
		o.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(o.ctx, o.cfg.PreviewStartTimeout)
	defer cancel()

	holder := newPreviewHolder()
	lease, err := o.deps.Arbiter.Acquire(ctx, camera.RolePreview, holder)
	if errors.Is(err, camera.ErrLeaseHeld) {
		return accepted("Preview already active")
	}
	if err != nil {
		return Result{Outcome: OutcomeUnavailable, Message: "Camera busy", Err: err}
	}

	session, err := camera.StartSession(ctx, o.deps.NewSource(), o.cfg.Camera)
	if err != nil {
		holder.set(nil)
		_ = o.deps.Arbiter.Release(lease)
		slog.Error("Failed to start preview", "error", err)
		return Result{Outcome: OutcomeUnavailable, Message: "Camera unavailable", Err: err}
	}
	holder.set(session)

	o.mu.Lock()
	o.session = session
	o.previewLease = lease
	o.mu.Unlock()

	go o.watchSession(session)
	slog.Info("Preview started")
	return accepted("Preview started")
}

// watchSession drops the preview when its source dies.
func (o *Orchestrator) watchSession(s *camera.Session) {
	<-s.Done()
	o.mu.Lock()
	if o.session != s {
		o.mu.Unlock()
		return
	}
	lease := o.previewLease
	o.session, o.previewLease = nil, nil
	o.mu.Unlock()

	slog.Warn("Preview session ended")
	if err := o.deps.Arbiter.Release(lease); err != nil && !errors.Is(err, camera.ErrStaleLease) {
		slog.Warn("Failed to release preview lease", "error", err)
	}
}

// StopPreview ends the preview. Stopping an idle preview is accepted.
func (o *Orchestrator) StopPreview() Result {
	o.mu.Lock()
	s, lease := o.session, o.previewLease
	o.session, o.previewLease = nil, nil
	o.mu.Unlock()

	if s == nil {
		return accepted("Preview not active")
	}
	s.Stop()
	if err := o.deps.Arbiter.Release(lease); err != nil && !errors.Is(err, camera.ErrStaleLease) {
		slog.Warn("Failed to release preview lease", "error", err)
	}
	slog.Info("Preview stopped")
	return accepted("Preview stopped")
}

// LatestFrame returns the newest preview frame, if a preview is running.
func (o *Orchestrator) LatestFrame(maxAge time.Duration) (frame.Frame, bool) {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	if s == nil {
		return frame.Frame{}, false
	}
	return s.LatestFrame(maxAge)
}

// PreviewActive reports whether a preview session exists.
func (o *Orchestrator) PreviewActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		State:   o.state.String(),
		Preview: o.session != nil,
	}
	if remaining := o.cooldownLocked(); remaining > 0 {
		st.CooldownRemaining = (&CooldownError{Remaining: remaining}).Seconds()
	}
	if !o.lastCapture.IsZero() {
		last := o.lastCapture
		st.LastCapture = &last
	}
	o.mu.Unlock()

	if role, ok := o.deps.Arbiter.Holder(); ok {
		st.CameraHolder = role.String()
	} else {
		st.CameraHolder = "none"
	}
	return st
}

// Wait blocks until the running capture, if any, has finished.
func (o *Orchestrator) Wait() {
	o.runs.Wait()
}

// Shutdown stops the preview, abandons the upload and waits for the capture
// run before closing the event hub.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.StopPreview()
	if o.deps.Uplink != nil {
		if err := o.deps.Uplink.Close(); err != nil {
			slog.Warn("Failed to close uplink", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		o.runs.Wait()
		o.deps.Arbiter.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	o.deps.Hub.Close()
	return err
}
