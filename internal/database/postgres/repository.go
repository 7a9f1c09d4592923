package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

// Repository is the PostgreSQL roster source, attendance store and
// reference descriptor cache.
type Repository struct {
	pool *Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(pool *Pool) *Repository {
	return &Repository{pool: pool}
}

// FetchRoster returns the students of a section in enrollment order together
// with the statuses already stored for the date.
func (r *Repository) FetchRoster(ctx context.Context, subjectID string, section int, date string) (*attendance.Roster, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.student_id, s.display_name, s.reference_path
		FROM enrollments e
		JOIN students s ON s.student_id = e.student_id
		WHERE e.subject_id = $1 AND e.section = $2
		ORDER BY e.position, s.student_id
	`, subjectID, section)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	roster := &attendance.Roster{}
	for rows.Next() {
		var st attendance.EnrolledStudent
		if err := rows.Scan(&st.StudentID, &st.DisplayName, &st.ReferencePath); err != nil {
			return nil, fmt.Errorf("scan roster row: %w", err)
		}
		roster.Students = append(roster.Students, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}

	prior, err := r.FetchPriorStatuses(ctx, attendance.SessionKey{SubjectID: subjectID, Section: section, Date: date})
	if err != nil {
		return nil, err
	}
	roster.PriorStatuses = prior
	return roster, nil
}

// FetchPriorStatuses returns the stored statuses of a session, keyed by student.
func (r *Repository) FetchPriorStatuses(ctx context.Context, key attendance.SessionKey) (map[string]attendance.Status, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT student_id, status FROM attendance
		WHERE subject_id = $1 AND section = $2 AND date = $3::date
	`, key.SubjectID, key.Section, key.Date)
	if err != nil {
		return nil, fmt.Errorf("query prior statuses: %w", err)
	}
	defer rows.Close()

	prior := make(map[string]attendance.Status)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan prior status: %w", err)
		}
		st, err := attendance.ParseStatus(status)
		if err != nil {
			return nil, fmt.Errorf("student %s: %w", id, err)
		}
		prior[id] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prior statuses: %w", err)
	}
	return prior, nil
}

// FetchSessionWindows returns every weekly window of a subject.
func (r *Repository) FetchSessionWindows(ctx context.Context, subjectID string) ([]attendance.SessionWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT subject_id, section, weekday, start_time::text, end_time::text
		FROM session_windows
		WHERE subject_id = $1
		ORDER BY section, weekday, start_time
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query session windows: %w", err)
	}
	defer rows.Close()

	var windows []attendance.SessionWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session windows: %w", err)
	}
	return windows, nil
}

func scanWindow(scanner interface{ Scan(...any) error }) (attendance.SessionWindow, error) {
	var w attendance.SessionWindow
	var weekday int
	var start, end string
	if err := scanner.Scan(&w.SubjectID, &w.Section, &weekday, &start, &end); err != nil {
		return w, fmt.Errorf("scan session window: %w", err)
	}
	w.Weekday = time.Weekday(weekday)
	var err error
	if w.Start, err = attendance.ParseClockTime(start); err != nil {
		return w, err
	}
	if w.End, err = attendance.ParseClockTime(end); err != nil {
		return w, err
	}
	return w, nil
}

// PersistAttendance upserts all records of a batch in one statement.
func (r *Repository) PersistAttendance(ctx context.Context, key attendance.SessionKey, records []attendance.Record) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	statuses := make([]string, len(records))
	for i, rec := range records {
		if !rec.Status.IsFinal() {
			return fmt.Errorf("student %s: %w: %q", rec.StudentID, attendance.ErrInvalidStatus, rec.Status)
		}
		ids[i] = rec.StudentID
		statuses[i] = string(rec.Status)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO attendance (student_id, subject_id, section, date, status, updated_at)
		SELECT u.student_id, $3, $4, $5::date, u.status, NOW()
		FROM unnest($1::text[], $2::text[]) AS u(student_id, status)
		ON CONFLICT (student_id, subject_id, section, date)
		DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
	`, pq.Array(ids), pq.Array(statuses), key.SubjectID, key.Section, key.Date)
	if err != nil {
		return fmt.Errorf("upsert attendance: %w", err)
	}
	return nil
}

// SetSessionLive appends a start or end entry to the session log.
func (r *Repository) SetSessionLive(ctx context.Context, subjectID string, section int, action attendance.LiveAction, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		"INSERT INTO session_log (subject_id, section, action, at) VALUES ($1, $2, $3, $4)",
		subjectID, section, string(action), at,
	)
	if err != nil {
		return fmt.Errorf("insert session log: %w", err)
	}
	return nil
}

// GetDescriptor returns the cached descriptor of a student's reference image.
func (r *Repository) GetDescriptor(ctx context.Context, studentID, path string) ([]float32, bool, error) {
	var vec pgvector.Vector
	err := r.pool.QueryRow(ctx,
		"SELECT descriptor FROM reference_descriptors WHERE student_id = $1 AND reference_path = $2",
		studentID, path,
	).Scan(&vec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get descriptor: %w", err)
	}
	return vec.Slice(), true, nil
}

// SaveDescriptor stores a descriptor, replacing any earlier one for the same image.
func (r *Repository) SaveDescriptor(ctx context.Context, studentID, path string, descriptor []float32) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO reference_descriptors (student_id, reference_path, descriptor, dim, updated_at)
		VALUES ($1, $2, $3::vector, $4, NOW())
		ON CONFLICT (student_id, reference_path)
		DO UPDATE SET descriptor = EXCLUDED.descriptor, dim = EXCLUDED.dim, updated_at = NOW()
	`, studentID, path, pgvector.NewVector(descriptor), len(descriptor))
	if err != nil {
		return fmt.Errorf("save descriptor: %w", err)
	}
	return nil
}

// CountDescriptors returns the number of cached reference descriptors.
func (r *Repository) CountDescriptors(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM reference_descriptors").Scan(&count); err != nil {
		return 0, fmt.Errorf("count descriptors: %w", err)
	}
	return count, nil
}
