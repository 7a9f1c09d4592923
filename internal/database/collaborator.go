// Package database selects and composes the collaborators of the capture
// pipeline: roster source, attendance store, reference images and the
// descriptor cache.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

// composite joins independent backends into one attendance.Collaborator.
type composite struct {
	roster attendance.RosterSource
	store  attendance.AttendanceStore
	images attendance.ImageResolver
}

// Compose builds a collaborator from separate backends. When the roster
// source returns no prior statuses and the store can report them, the
// store's statuses are used. A nil images resolver fails every lookup.
func Compose(roster attendance.RosterSource, store attendance.AttendanceStore, images attendance.ImageResolver) (attendance.Collaborator, error) {
	if roster == nil {
		return nil, errors.New("roster source is required")
	}
	if store == nil {
		return nil, errors.New("attendance store is required")
	}
	return &composite{roster: roster, store: store, images: images}, nil
}

func (c *composite) FetchRoster(ctx context.Context, subjectID string, section int, date string) (*attendance.Roster, error) {
	roster, err := c.roster.FetchRoster(ctx, subjectID, section, date)
	if err != nil {
		return nil, err
	}
	if roster == nil {
		roster = &attendance.Roster{}
	}
	if len(roster.PriorStatuses) > 0 {
		return roster, nil
	}
	reader, ok := c.store.(PriorStatusReader)
	if !ok || sameBackend(c.roster, c.store) {
		return roster, nil
	}
	prior, err := reader.FetchPriorStatuses(ctx, attendance.SessionKey{SubjectID: subjectID, Section: section, Date: date})
	if err != nil {
		return nil, fmt.Errorf("fetch prior statuses: %w", err)
	}
	roster.PriorStatuses = prior
	return roster, nil
}

func (c *composite) FetchSessionWindows(ctx context.Context, subjectID string) ([]attendance.SessionWindow, error) {
	return c.roster.FetchSessionWindows(ctx, subjectID)
}

func (c *composite) PersistAttendance(ctx context.Context, key attendance.SessionKey, records []attendance.Record) error {
	return c.store.PersistAttendance(ctx, key, records)
}

func (c *composite) SetSessionLive(ctx context.Context, subjectID string, section int, action attendance.LiveAction, at time.Time) error {
	return c.store.SetSessionLive(ctx, subjectID, section, action, at)
}

func (c *composite) ResolveReferenceImage(ctx context.Context, path string) ([]byte, error) {
	if c.images == nil {
		return nil, errors.New("no reference image source configured")
	}
	return c.images.ResolveReferenceImage(ctx, path)
}

// sameBackend reports whether roster and store are the same value, in which
// case the roster already carried whatever prior statuses exist.
func sameBackend(roster attendance.RosterSource, store attendance.AttendanceStore) bool {
	s, ok := store.(attendance.RosterSource)
	return ok && s == roster
}
