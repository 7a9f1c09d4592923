// Package mock provides an in-memory collaborator for testing.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

// LiveEntry is one recorded SetSessionLive call
type LiveEntry struct {
	SubjectID string
	Section   int
	Action    attendance.LiveAction
	At        time.Time
}

type sectionKey struct {
	subjectID string
	section   int
}

// MockCollaborator is an in-memory implementation of attendance.Collaborator
// and descriptor.Cache
type MockCollaborator struct {
	mu          sync.RWMutex
	rosters     map[sectionKey][]attendance.EnrolledStudent
	windows     map[string][]attendance.SessionWindow
	images      map[string][]byte
	records     map[attendance.SessionKey]map[string]attendance.Status
	persisted   [][]attendance.Record
	liveLog     []LiveEntry
	descriptors map[string][]float32

	// Error injection
	FetchRosterError   error
	FetchWindowsError  error
	PersistError       error
	SetLiveError       error
	ResolveImageError  error
	GetDescriptorError error

	// PersistFailures makes the next N PersistAttendance calls fail
	PersistFailures int
}

// NewMockCollaborator creates a new mock collaborator
func NewMockCollaborator() *MockCollaborator {
	return &MockCollaborator{
		rosters:     make(map[sectionKey][]attendance.EnrolledStudent),
		windows:     make(map[string][]attendance.SessionWindow),
		images:      make(map[string][]byte),
		records:     make(map[attendance.SessionKey]map[string]attendance.Status),
		descriptors: make(map[string][]float32),
	}
}

// SetRoster sets the students of a section
func (m *MockCollaborator) SetRoster(subjectID string, section int, students ...attendance.EnrolledStudent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rosters[sectionKey{subjectID, section}] = students
}

// AddWindow adds a scheduled window
func (m *MockCollaborator) AddWindow(w attendance.SessionWindow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[w.SubjectID] = append(m.windows[w.SubjectID], w)
}

// AddImage adds a reference image
func (m *MockCollaborator) AddImage(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[path] = data
}

// SetStatus stores an attendance status as if persisted earlier
func (m *MockCollaborator) SetStatus(key attendance.SessionKey, studentID string, status attendance.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[key] == nil {
		m.records[key] = make(map[string]attendance.Status)
	}
	m.records[key][studentID] = status
}

// FetchRoster returns the section's students and the statuses stored for the date
func (m *MockCollaborator) FetchRoster(ctx context.Context, subjectID string, section int, date string) (*attendance.Roster, error) {
	if m.FetchRosterError != nil {
		return nil, m.FetchRosterError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	students, ok := m.rosters[sectionKey{subjectID, section}]
	if !ok {
		return nil, fmt.Errorf("no roster for %s section %d", subjectID, section)
	}

	roster := &attendance.Roster{Students: append([]attendance.EnrolledStudent(nil), students...)}
	key := attendance.SessionKey{SubjectID: subjectID, Section: section, Date: date}
	if stored := m.records[key]; len(stored) > 0 {
		roster.PriorStatuses = make(map[string]attendance.Status, len(stored))
		for id, s := range stored {
			roster.PriorStatuses[id] = s
		}
	}
	return roster, nil
}

// FetchSessionWindows returns the subject's windows
func (m *MockCollaborator) FetchSessionWindows(ctx context.Context, subjectID string) ([]attendance.SessionWindow, error) {
	if m.FetchWindowsError != nil {
		return nil, m.FetchWindowsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]attendance.SessionWindow(nil), m.windows[subjectID]...), nil
}

// PersistAttendance upserts records
func (m *MockCollaborator) PersistAttendance(ctx context.Context, key attendance.SessionKey, records []attendance.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PersistError != nil {
		return m.PersistError
	}
	if m.PersistFailures > 0 {
		m.PersistFailures--
		return errors.New("mock: persistence failure")
	}

	if m.records[key] == nil {
		m.records[key] = make(map[string]attendance.Status)
	}
	for _, r := range records {
		m.records[key][r.StudentID] = r.Status
	}
	m.persisted = append(m.persisted, append([]attendance.Record(nil), records...))
	return nil
}

// SetSessionLive records a session log entry
func (m *MockCollaborator) SetSessionLive(ctx context.Context, subjectID string, section int, action attendance.LiveAction, at time.Time) error {
	if m.SetLiveError != nil {
		return m.SetLiveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveLog = append(m.liveLog, LiveEntry{SubjectID: subjectID, Section: section, Action: action, At: at})
	return nil
}

// ResolveReferenceImage returns a stored image
func (m *MockCollaborator) ResolveReferenceImage(ctx context.Context, path string) ([]byte, error) {
	if m.ResolveImageError != nil {
		return nil, m.ResolveImageError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.images[path]
	if !ok {
		return nil, fmt.Errorf("image not found: %s", path)
	}
	return data, nil
}

// GetDescriptor returns a cached descriptor
func (m *MockCollaborator) GetDescriptor(ctx context.Context, studentID, path string) ([]float32, bool, error) {
	if m.GetDescriptorError != nil {
		return nil, false, m.GetDescriptorError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.descriptors[studentID+"\x00"+path]
	return d, ok, nil
}

// SaveDescriptor caches a descriptor
func (m *MockCollaborator) SaveDescriptor(ctx context.Context, studentID, path string, descriptor []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors[studentID+"\x00"+path] = descriptor
	return nil
}

// Attendance returns a copy of the stored statuses of a session
func (m *MockCollaborator) Attendance(key attendance.SessionKey) map[string]attendance.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]attendance.Status, len(m.records[key]))
	for id, s := range m.records[key] {
		out[id] = s
	}
	return out
}

// FetchPriorStatuses returns the stored statuses of a session
func (m *MockCollaborator) FetchPriorStatuses(ctx context.Context, key attendance.SessionKey) (map[string]attendance.Status, error) {
	if m.FetchRosterError != nil {
		return nil, m.FetchRosterError
	}
	return m.Attendance(key), nil
}

// PersistCalls returns every successful PersistAttendance batch
func (m *MockCollaborator) PersistCalls() [][]attendance.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]attendance.Record(nil), m.persisted...)
}

// LiveLog returns the recorded session log entries
func (m *MockCollaborator) LiveLog() []LiveEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]LiveEntry(nil), m.liveLog...)
}

// SetPersistFailures sets the number of upcoming failing persist calls
func (m *MockCollaborator) SetPersistFailures(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PersistFailures = n
}

// SetPersistError sets the error returned by every PersistAttendance call
func (m *MockCollaborator) SetPersistError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PersistError = err
}
