package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/descriptor"
)

var (
	mu                  sync.RWMutex
	postgresRoster      func() attendance.RosterSource
	postgresStore       func() attendance.AttendanceStore
	postgresCache       func() descriptor.Cache
	postgresInitialized bool
	legacyRoster        func() attendance.RosterSource
	remoteCollaborator  func() attendance.Collaborator
	legacyInitialized   bool
	remoteInitialized   bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(
	roster func() attendance.RosterSource,
	store func() attendance.AttendanceStore,
	cache func() descriptor.Cache,
) {
	mu.Lock()
	defer mu.Unlock()
	postgresRoster = roster
	postgresStore = store
	postgresCache = cache
	postgresInitialized = true
}

// RegisterLegacyRoster registers the read-only school database as the roster
// and timetable source. It takes precedence over PostgreSQL for rosters.
func RegisterLegacyRoster(roster func() attendance.RosterSource) {
	mu.Lock()
	defer mu.Unlock()
	legacyRoster = roster
	legacyInitialized = true
}

// RegisterRemote registers a remote API serving all collaborator operations.
// It is used for whatever no database backend provides.
func RegisterRemote(c func() attendance.Collaborator) {
	mu.Lock()
	defer mu.Unlock()
	remoteCollaborator = c
	remoteInitialized = true
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return postgresInitialized
}

// GetRosterSource returns the roster source: the legacy database if
// registered, then PostgreSQL, then the remote API.
func GetRosterSource(ctx context.Context) (attendance.RosterSource, error) {
	mu.RLock()
	defer mu.RUnlock()
	switch {
	case legacyInitialized && legacyRoster != nil:
		return legacyRoster(), nil
	case postgresInitialized && postgresRoster != nil:
		return postgresRoster(), nil
	case remoteInitialized && remoteCollaborator != nil:
		return remoteCollaborator(), nil
	}
	return nil, fmt.Errorf("no roster backend configured: set DATABASE_URL, LEGACY_DATABASE_URL or ROLLCALL_API_URL")
}

// GetAttendanceStore returns PostgreSQL if initialized, otherwise the remote API.
func GetAttendanceStore(ctx context.Context) (attendance.AttendanceStore, error) {
	mu.RLock()
	defer mu.RUnlock()
	switch {
	case postgresInitialized && postgresStore != nil:
		return postgresStore(), nil
	case remoteInitialized && remoteCollaborator != nil:
		return remoteCollaborator(), nil
	}
	return nil, fmt.Errorf("no attendance store configured: set DATABASE_URL or ROLLCALL_API_URL")
}

// GetDescriptorCache returns the PostgreSQL descriptor cache, or nil when
// PostgreSQL is not configured. Running without a cache is valid.
func GetDescriptorCache(ctx context.Context) descriptor.Cache {
	mu.RLock()
	defer mu.RUnlock()
	if postgresInitialized && postgresCache != nil {
		return postgresCache()
	}
	return nil
}

// GetRemoteImageResolver returns the remote API as an image resolver, if registered.
func GetRemoteImageResolver(ctx context.Context) (attendance.ImageResolver, bool) {
	mu.RLock()
	defer mu.RUnlock()
	if remoteInitialized && remoteCollaborator != nil {
		return remoteCollaborator(), true
	}
	return nil, false
}

// reset clears all registrations.
func reset() {
	mu.Lock()
	defer mu.Unlock()
	postgresRoster, postgresStore, postgresCache, postgresInitialized = nil, nil, nil, false
	legacyRoster, legacyInitialized = nil, false
	remoteCollaborator, remoteInitialized = nil, false
}
