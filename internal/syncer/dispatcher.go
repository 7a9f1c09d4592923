// Package syncer batches attendance changes of one session and pushes them to
// the attendance store, one flush at a time, without ever dropping a change
// that has not been acknowledged.
package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/constants"
)

// Persister is the part of the attendance store used for flushing.
type Persister interface {
	PersistAttendance(ctx context.Context, key attendance.SessionKey, records []attendance.Record) error
}

// Result describes one flush attempt.
type Result struct {
	Sent    int       `json:"sent"`
	Pending int       `json:"pending"`
	At      time.Time `json:"at"`
	Err     error     `json:"-"`
}

// OK reports whether the flush succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Options configures a Dispatcher.
type Options struct {
	// Timeout bounds one persistence call.
	Timeout time.Duration
	// OnResult is called after every flush attempt, outside the dispatcher lock.
	OnResult func(Result)
}

type entry struct {
	status attendance.Status
	seq    uint64
}

// Dispatcher owns the pending sync batch of one session.
type Dispatcher struct {
	key    attendance.SessionKey
	store  Persister
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	pending    map[string]entry
	order      []string
	seq        uint64
	inFlight   bool
	flightDone chan struct{}
	dirty      bool // enqueued while a flush was in flight
	stopped    bool
	last       Result
}

// New creates a dispatcher for key.
func New(key attendance.SessionKey, store Persister, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = constants.DefaultFlushTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		key:     key,
		store:   store,
		opts:    opts,
		logger:  logger,
		pending: make(map[string]entry),
	}
}

// Enqueue adds or overwrites the pending status of a student and triggers an
// asynchronous flush. While a flush is in flight the entry joins the next batch.
func (d *Dispatcher) Enqueue(studentID string, status attendance.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	if _, ok := d.pending[studentID]; !ok {
		d.order = append(d.order, studentID)
	}
	d.pending[studentID] = entry{status: status, seq: d.seq}

	if d.stopped {
		return
	}
	if d.inFlight {
		d.dirty = true
		return
	}

	batch, seqs := d.beginLocked()
	go d.runAsync(batch, seqs)
}

// Flush sends everything pending and waits for the result. If a flush is
// already in flight it waits for that one first, so at most one call is
// outstanding. Entries enqueued while it is sending go out right after it. A failed flush keeps the batch and returns *attendance.PersistenceFailure.
func (d *Dispatcher) Flush(ctx context.Context) (Result, error) {
	for {
		d.mu.Lock()
		if d.inFlight {
			done := d.flightDone
			d.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}
		if len(d.pending) == 0 {
			d.mu.Unlock()
			return Result{At: time.Now()}, nil
		}
		batch, seqs := d.beginLocked()
		d.mu.Unlock()

		sendCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
		err := d.store.PersistAttendance(sendCtx, d.key, batch)
		cancel()

		d.mu.Lock()
		res := d.finishLocked(batch, seqs, err)
		if err == nil && d.dirty && !d.stopped && len(d.pending) > 0 {
			next, nextSeqs := d.beginLocked()
			go d.runAsync(next, nextSeqs)
		}
		d.mu.Unlock()
		d.report(res)

		if err != nil {
			return res, &attendance.PersistenceFailure{Pending: res.Pending, Err: err}
		}
		return res, nil
	}
}

// Stop prevents any further asynchronous flush. An in-flight flush completes.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
}

// Final stops asynchronous flushing and forces one last flush after any
// in-flight flush completes.
func (d *Dispatcher) Final(ctx context.Context) (Result, error) {
	d.Stop()
	return d.Flush(ctx)
}

// Pending returns a copy of the unacknowledged batch in first-enqueue order.
func (d *Dispatcher) Pending() []attendance.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batchLocked()
}

// LastResult returns the outcome of the most recent flush attempt.
func (d *Dispatcher) LastResult() Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *Dispatcher) batchLocked() []attendance.Record {
	records := make([]attendance.Record, 0, len(d.pending))
	for _, id := range d.order {
		records = append(records, attendance.Record{StudentID: id, Status: d.pending[id].status})
	}
	return records
}

// beginLocked marks a flight as started and snapshots the batch.
func (d *Dispatcher) beginLocked() ([]attendance.Record, map[string]uint64) {
	d.inFlight = true
	d.dirty = false
	d.flightDone = make(chan struct{})

	seqs := make(map[string]uint64, len(d.pending))
	for id, e := range d.pending {
		seqs[id] = e.seq
	}
	return d.batchLocked(), seqs
}

// finishLocked ends a flight. On success, entries sent unchanged are
// removed; entries overwritten meanwhile stay for the next batch.
func (d *Dispatcher) finishLocked(batch []attendance.Record, seqs map[string]uint64, err error) Result {
	if err == nil {
		for _, r := range batch {
			if e, ok := d.pending[r.StudentID]; ok && e.seq == seqs[r.StudentID] {
				delete(d.pending, r.StudentID)
			}
		}
		order := d.order[:0]
		for _, id := range d.order {
			if _, ok := d.pending[id]; ok {
				order = append(order, id)
			}
		}
		d.order = order
	}

	d.inFlight = false
	close(d.flightDone)

	res := Result{Sent: len(batch), Pending: len(d.pending), At: time.Now(), Err: err}
	if err != nil {
		res.Sent = 0
	}
	d.last = res
	return res
}

func (d *Dispatcher) runAsync(batch []attendance.Record, seqs map[string]uint64) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
		err := d.store.PersistAttendance(ctx, d.key, batch)
		cancel()

		d.mu.Lock()
		res := d.finishLocked(batch, seqs, err)
		// a failed flight waits for the next trigger instead of retrying in a loop
		chain := err == nil && d.dirty && !d.stopped && len(d.pending) > 0
		if chain {
			batch, seqs = d.beginLocked()
		}
		d.mu.Unlock()
		d.report(res)

		if !chain {
			return
		}
	}
}

func (d *Dispatcher) report(res Result) {
	if res.Err != nil {
		d.logger.Warn("attendance flush failed, batch retained",
			zap.String("session", d.key.String()),
			zap.Int("pending", res.Pending),
			zap.Error(res.Err))
	} else {
		d.logger.Debug("attendance flushed",
			zap.String("session", d.key.String()),
			zap.Int("sent", res.Sent),
			zap.Int("pending", res.Pending))
	}
	if d.opts.OnResult != nil {
		d.opts.OnResult(res)
	}
}
