// Package session wires the capture pipeline of one scheduled section:
// lifecycle gate, capture loop, classifier, reconciler and sync dispatcher.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/descriptor"
	"github.com/kozaktomas/rollcall/internal/facematch"
	"github.com/kozaktomas/rollcall/internal/lifecycle"
	"github.com/kozaktomas/rollcall/internal/reconcile"
	"github.com/kozaktomas/rollcall/internal/syncer"
)

var errNoCaptureSource = errors.New("no capture source configured")

// Deps are the collaborators of a session.
type Deps struct {
	Roster      attendance.RosterSource
	Store       attendance.AttendanceStore
	Descriptors *descriptor.Store
	// NewMatcher opens the capture device when a session goes live. Nil
	// means sessions run with manual marking only.
	NewMatcher func(ctx context.Context) (*capture.Matcher, error)
	Location   *time.Location
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Options are the tuning knobs of a session.
type Options struct {
	Thresholds   facematch.Thresholds
	TickPeriod   time.Duration
	FlushTimeout time.Duration
}

// StartReport is the outcome of Start. Warnings are advisory.
type StartReport struct {
	lifecycle.StartResult
	AutoCapture bool     `json:"auto_capture"`
	Warnings    []string `json:"warnings,omitempty"`

	warnErrs []error
}

// HasWarning reports whether target is among the start warnings.
func (r StartReport) HasWarning(target error) bool {
	for _, err := range r.warnErrs {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *StartReport) warn(err error) {
	r.warnErrs = append(r.warnErrs, err)
	r.Warnings = append(r.Warnings, err.Error())
}

// EndReport is the outcome of End.
type EndReport struct {
	EndedAt   time.Time          `json:"ended_at"`
	Finalized int                `json:"finalized"`
	Flush     syncer.Result      `json:"flush"`
	Warnings  []string           `json:"warnings,omitempty"`
	Changes   []reconcile.Change `json:"changes,omitempty"`
}

// Session is one occurrence of a subject section.
type Session struct {
	ID        string
	Key       attendance.SessionKey
	CreatedAt time.Time

	students   []attendance.EnrolledStudent
	set        *descriptor.Set
	classifier *facematch.Classifier
	reconciler *reconcile.Reconciler
	dispatcher *syncer.Dispatcher
	lifecycle  *lifecycle.Controller
	store      attendance.AttendanceStore
	newMatcher func(ctx context.Context) (*capture.Matcher, error)
	events     *EventBroadcaster
	logger     *zap.Logger
	clock      func() time.Time
	tick       time.Duration

	mu          sync.Mutex
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	autoCapture bool
	loopStopped bool
	captureErr  error

	frames    atomic.Int64
	matches   atomic.Int64
	closeOnce sync.Once
}

// Open loads the roster, windows and descriptors of key and builds an idle
// (Scheduled) session. Per-student descriptor failures do not fail Open.
func Open(ctx context.Context, key attendance.SessionKey, deps Deps, opts Options) (*Session, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if deps.Roster == nil || deps.Store == nil {
		return nil, errors.New("roster source and attendance store are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	if opts.TickPeriod <= 0 {
		opts.TickPeriod = constants.DefaultTickPeriod
	}
	if opts.Thresholds == (facematch.Thresholds{}) {
		opts.Thresholds = facematch.Thresholds{Presence: constants.DefaultPresenceThreshold, Draw: constants.DefaultDrawThreshold}
	}

	roster, err := deps.Roster.FetchRoster(ctx, key.SubjectID, key.Section, key.Date)
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	windows, err := deps.Roster.FetchSessionWindows(ctx, key.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("fetch session windows: %w", err)
	}

	descriptors := deps.Descriptors
	if descriptors == nil {
		descriptors = descriptor.NewStore(nil, nil, nil, descriptor.Options{}, logger)
	}
	set, err := descriptors.Load(ctx, roster.Students)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	logger = logger.With(zap.String("session_id", id), zap.String("session", key.String()))

	s := &Session{
		ID:         id,
		Key:        key,
		CreatedAt:  clock(),
		students:   roster.Students,
		set:        set,
		classifier: facematch.NewClassifier(set, opts.Thresholds),
		store:      deps.Store,
		newMatcher: deps.NewMatcher,
		events:     &EventBroadcaster{},
		logger:     logger,
		clock:      clock,
		tick:       opts.TickPeriod,
		lifecycle:  lifecycle.New(key, windows, deps.Location, lifecycle.WithClock(clock)),
	}
	s.dispatcher = syncer.New(key, deps.Store, syncer.Options{
		Timeout:  opts.FlushTimeout,
		OnResult: s.onSyncResult,
	}, logger)
	s.reconciler = reconcile.New(roster.Students, roster.PriorStatuses, s.onChange, logger)

	logger.Info("session opened",
		zap.Int("students", len(roster.Students)),
		zap.Int("descriptors", set.Len()),
		zap.Int("windows", len(s.lifecycle.Windows())))
	return s, nil
}

// onChange runs inside the reconciler turn.
func (s *Session) onChange(c reconcile.Change) {
	s.dispatcher.Enqueue(c.StudentID, c.To)
	s.events.SendEvent(Event{Type: EventStatus, Data: c})
}

func (s *Session) onSyncResult(res syncer.Result) {
	ev := Event{Type: EventSync, Data: res}
	if res.Err != nil {
		ev.Message = res.Err.Error()
	}
	s.events.SendEvent(ev)
}

// Start moves the session Live and starts automatic capture when possible.
// OutsideScheduledWindow fails the start unless force is set. A failing
// session log, missing reference data or an unavailable camera only produce
// warnings; manual marking stays available.
func (s *Session) Start(ctx context.Context, force bool) (StartReport, error) {
	res, err := s.lifecycle.Start(force)
	report := StartReport{StartResult: res}
	if err != nil {
		return report, err
	}
	if res.Warning != nil {
		report.warn(res.Warning)
		s.logger.Warn("session force-started outside its scheduled window")
	}

	if err := s.store.SetSessionLive(ctx, s.Key.SubjectID, s.Key.Section, attendance.LiveActionStart, res.At); err != nil {
		report.warn(fmt.Errorf("session log: %w", err))
		s.logger.Warn("failed to record session start", zap.Error(err))
	}

	switch {
	case s.set.Len() == 0:
		report.warn(attendance.ErrNoReferenceDataAtAll)
		s.logger.Warn("no reference descriptors, manual marking only")
	case s.newMatcher == nil:
		report.warn(errNoCaptureSource)
	default:
		matcher, err := s.newMatcher(ctx)
		if err != nil {
			if !errors.Is(err, attendance.ErrCaptureUnavailable) {
				err = fmt.Errorf("%w: %v", attendance.ErrCaptureUnavailable, err)
			}
			report.warn(err)
			s.setCaptureErr(err)
			s.logger.Error("capture device unavailable", zap.Error(err))
			break
		}
		report.AutoCapture = s.startLoop(matcher)
	}

	s.events.SendEvent(Event{Type: EventState, Message: string(lifecycle.StateLive), Data: report})
	s.logger.Info("session live", zap.Bool("auto_capture", report.AutoCapture), zap.Bool("forced", res.Forced))
	return report, nil
}

// startLoop launches the capture loop unless the session was stopped meanwhile.
func (s *Session) startLoop(m *capture.Matcher) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopStopped {
		m.Close()
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.loopCancel = cancel
	s.loopDone = done
	s.autoCapture = true

	go s.runLoop(ctx, m, done)
	return true
}

// runLoop drives capture on a fixed period. The device is released before
// done is closed.
func (s *Session) runLoop(ctx context.Context, m *capture.Matcher, done chan struct{}) {
	defer close(done)
	defer m.Close()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := s.processFrame(ctx, m)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, attendance.ErrCaptureUnavailable):
			s.setCaptureErr(err)
			s.mu.Lock()
			s.autoCapture = false
			s.mu.Unlock()
			s.events.SendEvent(Event{Type: EventCapture, Message: err.Error()})
			s.logger.Error("capture loop stopped", zap.Error(err))
			return
		case errors.Is(err, attendance.ErrSessionEnded):
			return
		default:
			s.logger.Warn("frame skipped", zap.Error(err))
		}
	}
}

// processFrame runs one capture, classify and reconcile cycle.
func (s *Session) processFrame(ctx context.Context, m *capture.Matcher) error {
	frame, err := m.CaptureAndDetect(ctx)
	if err != nil {
		return err
	}
	s.frames.Add(1)
	if len(frame.Detections) == 0 {
		return nil
	}

	results := s.classifier.ClassifyAll(frame.Detections, frame.Width, frame.Height)
	s.events.SendEvent(Event{Type: EventDetection, Data: results, At: frame.CapturedAt})

	for _, r := range results {
		_, applied, err := s.reconciler.ApplyMatch(ctx, r)
		if err != nil {
			return err
		}
		if applied {
			s.matches.Add(1)
		}
	}
	return nil
}

func (s *Session) setCaptureErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureErr = err
}

// stopLoop cancels the capture loop and waits until the device is released.
func (s *Session) stopLoop() {
	s.mu.Lock()
	cancel, done := s.loopCancel, s.loopDone
	s.loopCancel, s.loopDone = nil, nil
	s.autoCapture = false
	s.loopStopped = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// End stops capture, finalizes attendance and forces a final flush. A flush
// failure is returned as *attendance.PersistenceFailure; the session is
// Ended anyway and RetryFlush can push the retained batch later.
func (s *Session) End(ctx context.Context) (EndReport, error) {
	endedAt, err := s.lifecycle.End()
	if err != nil {
		return EndReport{}, err
	}
	report := EndReport{EndedAt: endedAt}

	s.stopLoop()
	s.dispatcher.Stop()

	changes, err := s.reconciler.Finalize(ctx)
	if err != nil {
		return report, fmt.Errorf("finalize attendance: %w", err)
	}
	report.Finalized = len(changes)
	report.Changes = changes

	res, flushErr := s.dispatcher.Final(ctx)
	report.Flush = res

	if err := s.store.SetSessionLive(ctx, s.Key.SubjectID, s.Key.Section, attendance.LiveActionEnd, endedAt); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("session log: %v", err))
		s.logger.Warn("failed to record session end", zap.Error(err))
	}

	s.events.SendEvent(Event{Type: EventState, Message: string(lifecycle.StateEnded), Data: report})
	s.logger.Info("session ended",
		zap.Int("finalized_absent", report.Finalized),
		zap.Int("pending", res.Pending),
		zap.Bool("flushed", flushErr == nil))

	if flushErr != nil {
		return report, flushErr
	}
	return report, nil
}

// ManualMark applies an operator mark. Allowed until the session ends.
func (s *Session) ManualMark(ctx context.Context, studentID string, status attendance.Status) (reconcile.Change, error) {
	return s.reconciler.ApplyManual(ctx, studentID, status)
}

// ResolveStudent finds a roster student by ID or display name.
func (s *Session) ResolveStudent(query string) (attendance.EnrolledStudent, bool) {
	return facematch.ResolveStudent(query, s.students)
}

// Snapshot returns a read-only copy of the current statuses.
func (s *Session) Snapshot(ctx context.Context) (map[string]attendance.Status, error) {
	return s.reconciler.Snapshot(ctx)
}

// IsLive reports whether the session is Live.
func (s *Session) IsLive() bool {
	return s.lifecycle.IsLive()
}

// State returns the lifecycle state.
func (s *Session) State() lifecycle.State {
	return s.lifecycle.State()
}

// Windows returns the section's scheduled windows.
func (s *Session) Windows() []attendance.SessionWindow {
	return s.lifecycle.Windows()
}

// RetryFlush pushes whatever is still pending.
func (s *Session) RetryFlush(ctx context.Context) (syncer.Result, error) {
	return s.dispatcher.Flush(ctx)
}

// Events returns the session's event broadcaster.
func (s *Session) Events() *EventBroadcaster {
	return s.events
}

// EndedAt returns when the session ended, zero if it has not.
func (s *Session) EndedAt() time.Time {
	_, ended, _ := s.lifecycle.Times()
	return ended
}

// Close stops everything without finalizing. Used when a session is dropped.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stopLoop()
		s.dispatcher.Stop()
		s.reconciler.Close()
		s.events.Close()
	})
}
