// Package lifecycle gates a session section through Scheduled, Live and Ended
// against its weekly scheduled windows.
package lifecycle

import (
	"sync"
	"time"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

// State of a session section.
type State string

const (
	StateScheduled State = "scheduled"
	StateLive      State = "live"
	StateEnded     State = "ended"
)

// StartResult describes a successful or refused start.
type StartResult struct {
	At     time.Time                 `json:"at"`
	Window *attendance.SessionWindow `json:"window,omitempty"`
	Forced bool                      `json:"forced"`
	// Warning is ErrOutsideScheduledWindow when the start happened (or was
	// refused) outside every window.
	Warning error `json:"-"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Controller is the lifecycle of one (subject, section, date). Sections of
// the same subject each get their own controller and may be live together.
type Controller struct {
	mu        sync.Mutex
	key       attendance.SessionKey
	windows   []attendance.SessionWindow
	loc       *time.Location
	now       func() time.Time
	state     State
	startedAt time.Time
	endedAt   time.Time
	forced    bool
}

// New creates a controller in the Scheduled state. Windows of other subjects
// or sections are ignored. A nil loc means time.Local.
func New(key attendance.SessionKey, windows []attendance.SessionWindow, loc *time.Location, opts ...Option) *Controller {
	if loc == nil {
		loc = time.Local
	}
	c := &Controller{
		key:   key,
		loc:   loc,
		now:   time.Now,
		state: StateScheduled,
	}
	for _, w := range windows {
		if w.SubjectID == key.SubjectID && w.Section == key.Section {
			c.windows = append(c.windows, w)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Windows returns the section's scheduled windows.
func (c *Controller) Windows() []attendance.SessionWindow {
	return append([]attendance.SessionWindow(nil), c.windows...)
}

// ActiveWindow returns the window containing t, evaluated in the schedule's timezone.
func (c *Controller) ActiveWindow(t time.Time) (attendance.SessionWindow, bool) {
	local := t.In(c.loc)
	for _, w := range c.windows {
		if w.Contains(local) {
			return w, true
		}
	}
	return attendance.SessionWindow{}, false
}

// Start moves Scheduled to Live. Outside every window it fails with
// ErrOutsideScheduledWindow and stays Scheduled, unless force is set: then
// the session goes Live and the result carries the warning.
func (c *Controller) Start(force bool) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateLive:
		return StartResult{}, attendance.ErrSessionAlreadyLive
	case StateEnded:
		return StartResult{}, attendance.ErrSessionEnded
	}

	now := c.now()
	res := StartResult{At: now}
	if w, ok := c.ActiveWindow(now); ok {
		res.Window = &w
	} else {
		res.Warning = attendance.ErrOutsideScheduledWindow
		if !force {
			return res, attendance.ErrOutsideScheduledWindow
		}
		res.Forced = true
	}

	c.state = StateLive
	c.startedAt = now
	c.forced = res.Forced
	return res, nil
}

// End moves Live to Ended.
func (c *Controller) End() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateScheduled:
		return time.Time{}, attendance.ErrSessionNotLive
	case StateEnded:
		return time.Time{}, attendance.ErrSessionEnded
	}

	c.state = StateEnded
	c.endedAt = c.now()
	return c.endedAt, nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsLive reports whether the section is Live.
func (c *Controller) IsLive() bool {
	return c.State() == StateLive
}

// Times returns when the session started and ended (zero if not yet).
func (c *Controller) Times() (started, ended time.Time, forced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startedAt, c.endedAt, c.forced
}
