package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

// UpsertStudent creates or updates a student.
func (r *Repository) UpsertStudent(ctx context.Context, st attendance.EnrolledStudent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO students (student_id, display_name, reference_path)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id)
		DO UPDATE SET display_name = EXCLUDED.display_name, reference_path = EXCLUDED.reference_path
	`, st.StudentID, st.DisplayName, st.ReferencePath)
	if err != nil {
		return fmt.Errorf("upsert student %s: %w", st.StudentID, err)
	}
	return nil
}

// Enroll replaces the roster of a section. Students must already exist; the
// slice order becomes the enrollment order.
func (r *Repository) Enroll(ctx context.Context, subjectID string, section int, studentIDs []string) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM enrollments WHERE subject_id = $1 AND section = $2", subjectID, section,
	); err != nil {
		return fmt.Errorf("clear enrollments: %w", err)
	}
	for i, id := range studentIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO enrollments (subject_id, section, student_id, position) VALUES ($1, $2, $3, $4)",
			subjectID, section, id, i,
		); err != nil {
			return fmt.Errorf("enroll %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollments: %w", err)
	}
	return nil
}

// AddSessionWindow stores a weekly window.
func (r *Repository) AddSessionWindow(ctx context.Context, w attendance.SessionWindow) error {
	if w.End <= w.Start {
		return fmt.Errorf("window %s-%s: end must be after start", w.Start, w.End)
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO session_windows (subject_id, section, weekday, start_time, end_time)
		VALUES ($1, $2, $3, $4::time, $5::time)
	`, w.SubjectID, w.Section, int(w.Weekday), w.Start.String(), w.End.String())
	if err != nil {
		return fmt.Errorf("insert session window: %w", err)
	}
	return nil
}
