package mariadb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

// FetchRoster returns the pupils of a course group ordered by roll number.
// The legacy system keeps no attendance, so PriorStatuses is always empty.
func (p *Pool) FetchRoster(ctx context.Context, subjectID string, section int, _ string) (*attendance.Roster, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.first_name, p.last_name, COALESCE(p.photo_path, '')
		FROM class_enrollments e
		JOIN pupils p ON p.id = e.pupil_id
		WHERE e.course_code = ? AND e.group_no = ? AND e.withdrawn_at IS NULL
		ORDER BY e.roll_no, p.id
	`, subjectID, section)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	roster := &attendance.Roster{}
	for rows.Next() {
		var id int64
		var first, last, photo string
		if err := rows.Scan(&id, &first, &last, &photo); err != nil {
			return nil, fmt.Errorf("scan pupil: %w", err)
		}
		roster.Students = append(roster.Students, attendance.EnrolledStudent{
			StudentID:     strconv.FormatInt(id, 10),
			DisplayName:   displayName(first, last),
			ReferencePath: photo,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return roster, nil
}

// FetchSessionWindows returns the timetable slots of a course.
func (p *Pool) FetchSessionWindows(ctx context.Context, subjectID string) ([]attendance.SessionWindow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT group_no, day_of_week, TIME_FORMAT(starts_at, '%H:%i'), TIME_FORMAT(ends_at, '%H:%i')
		FROM timetable
		WHERE course_code = ?
		ORDER BY group_no, day_of_week, starts_at
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query timetable: %w", err)
	}
	defer rows.Close()

	var windows []attendance.SessionWindow
	for rows.Next() {
		var group, day int
		var start, end string
		if err := rows.Scan(&group, &day, &start, &end); err != nil {
			return nil, fmt.Errorf("scan timetable slot: %w", err)
		}
		w, err := toWindow(subjectID, group, day, start, end)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timetable: %w", err)
	}
	return windows, nil
}

// weekdayFromISO converts an ISO-8601 day number (1 = Monday, 7 = Sunday).
func weekdayFromISO(day int) (time.Weekday, error) {
	if day < 1 || day > 7 {
		return 0, fmt.Errorf("invalid day of week %d", day)
	}
	return time.Weekday(day % 7), nil
}

func toWindow(subjectID string, group, day int, start, end string) (attendance.SessionWindow, error) {
	w := attendance.SessionWindow{SubjectID: subjectID, Section: group}
	var err error
	if w.Weekday, err = weekdayFromISO(day); err != nil {
		return w, err
	}
	if w.Start, err = attendance.ParseClockTime(start); err != nil {
		return w, err
	}
	if w.End, err = attendance.ParseClockTime(end); err != nil {
		return w, err
	}
	if w.End <= w.Start {
		return w, fmt.Errorf("timetable slot %s group %d: end %s is not after start %s", subjectID, group, w.End, w.Start)
	}
	return w, nil
}

func displayName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
