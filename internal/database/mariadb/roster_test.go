package mariadb

import (
	"testing"
	"time"
)

func TestWeekdayFromISO(t *testing.T) {
	tests := []struct {
		day     int
		want    time.Weekday
		wantErr bool
	}{
		{1, time.Monday, false},
		{5, time.Friday, false},
		{6, time.Saturday, false},
		{7, time.Sunday, false},
		{0, 0, true},
		{8, 0, true},
	}
	for _, tt := range tests {
		got, err := weekdayFromISO(tt.day)
		if (err != nil) != tt.wantErr {
			t.Errorf("weekdayFromISO(%d) error = %v, wantErr %v", tt.day, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("weekdayFromISO(%d) = %v, want %v", tt.day, got, tt.want)
		}
	}
}

func TestToWindow(t *testing.T) {
	w, err := toWindow("MATH", 2, 3, "08:00", "09:30")
	if err != nil {
		t.Fatalf("toWindow: %v", err)
	}
	if w.SubjectID != "MATH" || w.Section != 2 || w.Weekday != time.Wednesday {
		t.Errorf("unexpected window %+v", w)
	}
	if w.Start.String() != "08:00" || w.End.String() != "09:30" {
		t.Errorf("unexpected times %s-%s", w.Start, w.End)
	}

	if _, err := toWindow("MATH", 1, 1, "10:00", "09:00"); err == nil {
		t.Error("expected error for end before start")
	}
	if _, err := toWindow("MATH", 1, 1, "25:00", "26:00"); err == nil {
		t.Error("expected error for invalid hour")
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		first, last, want string
	}{
		{"Jan", "Novák", "Jan Novák"},
		{" Jan ", " Novák ", "Jan Novák"},
		{"", "Novák", "Novák"},
		{"Jan", "", "Jan"},
	}
	for _, tt := range tests {
		if got := displayName(tt.first, tt.last); got != tt.want {
			t.Errorf("displayName(%q, %q) = %q, want %q", tt.first, tt.last, got, tt.want)
		}
	}
}

func TestNewPool_EmptyDSN(t *testing.T) {
	if _, err := NewPool(""); err == nil {
		t.Error("expected error for empty DSN")
	}
}
