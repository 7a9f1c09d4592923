package attendance

import (
	"context"
	"time"
)

// RosterSource provides the students and scheduled windows of a subject.
type RosterSource interface {
	// FetchRoster returns the students of a section in enrollment order and any
	// statuses already persisted for the date.
	FetchRoster(ctx context.Context, subjectID string, section int, date string) (*Roster, error)
	// FetchSessionWindows returns all weekly windows of a subject (every section).
	FetchSessionWindows(ctx context.Context, subjectID string) ([]SessionWindow, error)
}

// AttendanceStore persists attendance and session log entries.
type AttendanceStore interface {
	// PersistAttendance upserts records keyed by (student, date, section).
	PersistAttendance(ctx context.Context, key SessionKey, records []Record) error
	// SetSessionLive appends a start/end entry to the session log.
	SetSessionLive(ctx context.Context, subjectID string, section int, action LiveAction, at time.Time) error
}

// ImageResolver fetches the raw bytes of a reference image.
type ImageResolver interface {
	ResolveReferenceImage(ctx context.Context, path string) ([]byte, error)
}

// Collaborator is the complete set of external operations the pipeline consumes.
type Collaborator interface {
	RosterSource
	AttendanceStore
	ImageResolver
}
