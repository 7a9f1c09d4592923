// Package reconcile owns the authoritative attendance map of one session.
// Automatic matches and manual marks are applied one at a time by a single
// goroutine, in submission order.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("reconciler closed")

// Origin tells what produced a change.
type Origin string

const (
	OriginAuto     Origin = "auto"
	OriginManual   Origin = "manual"
	OriginFinalize Origin = "finalize"
)

// Change is one applied status transition.
type Change struct {
	StudentID string            `json:"student_id"`
	From      attendance.Status `json:"from"`
	To        attendance.Status `json:"to"`
	Origin    Origin            `json:"origin"`
	Distance  float64           `json:"distance,omitempty"`
	At        time.Time         `json:"at"`
}

// Sink receives every change from inside the actor turn that produced it,
// so sink order equals application order. It must not call back into the
// Reconciler.
type Sink func(Change)

type request struct {
	apply func()
	done  chan struct{}
}

// Reconciler is the single writer of a session's attendance map.
type Reconciler struct {
	requests  chan request
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	sink      Sink
	logger    *zap.Logger
	now       func() time.Time

	// owned by the run loop
	order    []string
	statuses map[string]attendance.Status
	locked   map[string]bool // manual override applied; automatic matches ignored
	ended    bool
}

// New starts a reconciler for the roster. Students start Unset unless prior
// holds a status. A prior Present counts as already seen; a prior Excused is
// treated as an earlier manual decision.
func New(students []attendance.EnrolledStudent, prior map[string]attendance.Status, sink Sink, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = func(Change) {}
	}

	r := &Reconciler{
		requests: make(chan request),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		statuses: make(map[string]attendance.Status, len(students)),
		locked:   make(map[string]bool),
	}
	for _, s := range students {
		if _, dup := r.statuses[s.StudentID]; dup || s.StudentID == "" {
			continue
		}
		status := attendance.StatusUnset
		if p, ok := prior[s.StudentID]; ok && p != "" {
			status = p
		}
		r.order = append(r.order, s.StudentID)
		r.statuses[s.StudentID] = status
		if status == attendance.StatusExcused {
			r.locked[s.StudentID] = true
		}
	}

	go r.run()
	return r
}

func (r *Reconciler) run() {
	defer close(r.stopped)
	for {
		select {
		case req := <-r.requests:
			req.apply()
			close(req.done)
		case <-r.quit:
			return
		}
	}
}

// do runs fn on the actor goroutine. Once submitted, fn always completes
// before do returns, even if ctx is cancelled meanwhile.
func (r *Reconciler) do(ctx context.Context, fn func()) error {
	req := request{apply: fn, done: make(chan struct{})}
	select {
	case r.requests <- req:
	case <-r.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-req.done
	return nil
}

func (r *Reconciler) emit(c Change) {
	r.statuses[c.StudentID] = c.To
	r.sink(c)
}

// ApplyMatch applies an automatic match. Only present-labelled matches of
// enrolled students change state; a student already Present or manually
// overridden is left alone. The bool reports whether a change was emitted.
func (r *Reconciler) ApplyMatch(ctx context.Context, m facematch.MatchResult) (Change, bool, error) {
	var (
		change  Change
		applied bool
		err     error
	)
	submitErr := r.do(ctx, func() {
		if r.ended {
			err = attendance.ErrSessionEnded
			return
		}
		if m.Label != facematch.LabelPresent || !m.Known() {
			return
		}
		current, enrolled := r.statuses[m.StudentID]
		if !enrolled || r.locked[m.StudentID] || current == attendance.StatusPresent {
			return
		}
		change = Change{
			StudentID: m.StudentID,
			From:      current,
			To:        attendance.StatusPresent,
			Origin:    OriginAuto,
			Distance:  m.Distance,
			At:        r.now(),
		}
		r.emit(change)
		applied = true
	})
	if submitErr != nil {
		return Change{}, false, submitErr
	}
	if applied {
		r.logger.Info("student marked present",
			zap.String("student_id", change.StudentID),
			zap.Float64("distance", change.Distance))
	}
	return change, applied, err
}

// ApplyManual applies an operator mark. It always overwrites the current
// status and always emits a change.
func (r *Reconciler) ApplyManual(ctx context.Context, studentID string, status attendance.Status) (Change, error) {
	if !status.IsFinal() {
		return Change{}, fmt.Errorf("%w: manual mark must be present, absent or excused", attendance.ErrInvalidStatus)
	}

	var (
		change Change
		err    error
	)
	submitErr := r.do(ctx, func() {
		if r.ended {
			err = attendance.ErrSessionEnded
			return
		}
		current, enrolled := r.statuses[studentID]
		if !enrolled {
			err = fmt.Errorf("%w: %s", attendance.ErrUnknownStudent, studentID)
			return
		}
		r.locked[studentID] = true
		change = Change{
			StudentID: studentID,
			From:      current,
			To:        status,
			Origin:    OriginManual,
			At:        r.now(),
		}
		r.emit(change)
	})
	if submitErr != nil {
		return Change{}, submitErr
	}
	if err != nil {
		return Change{}, err
	}
	r.logger.Info("manual mark applied",
		zap.String("student_id", studentID),
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)))
	return change, nil
}

// Finalize marks every student still Unset as Absent and rejects all later
// writes. Calling it again returns no changes.
func (r *Reconciler) Finalize(ctx context.Context) ([]Change, error) {
	var changes []Change
	err := r.do(ctx, func() {
		if r.ended {
			return
		}
		r.ended = true
		at := r.now()
		for _, id := range r.order {
			if r.statuses[id] != attendance.StatusUnset {
				continue
			}
			c := Change{
				StudentID: id,
				From:      attendance.StatusUnset,
				To:        attendance.StatusAbsent,
				Origin:    OriginFinalize,
				At:        at,
			}
			r.emit(c)
			changes = append(changes, c)
		}
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("attendance finalized", zap.Int("marked_absent", len(changes)))
	return changes, nil
}

// Snapshot returns a copy of the status map.
func (r *Reconciler) Snapshot(ctx context.Context) (map[string]attendance.Status, error) {
	var snap map[string]attendance.Status
	err := r.do(ctx, func() {
		snap = make(map[string]attendance.Status, len(r.statuses))
		for id, s := range r.statuses {
			snap[id] = s
		}
	})
	return snap, err
}

// Order returns the student IDs in roster order.
func (r *Reconciler) Order() []string {
	return append([]string(nil), r.order...)
}

// Close stops the actor. Pending callers get ErrClosed.
func (r *Reconciler) Close() {
	r.closeOnce.Do(func() { close(r.quit) })
	<-r.stopped
}
