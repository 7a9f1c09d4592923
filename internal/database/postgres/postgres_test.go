//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/config"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if _, err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func seedSection(t *testing.T, repo *Repository) {
	t.Helper()
	ctx := context.Background()
	students := []attendance.EnrolledStudent{
		{StudentID: "s2", DisplayName: "Bára Malá", ReferencePath: "s2.jpg"},
		{StudentID: "s1", DisplayName: "Adam Novák", ReferencePath: "s1.jpg"},
		{StudentID: "s3", DisplayName: "Cyril Dvořák"},
	}
	for _, st := range students {
		if err := repo.UpsertStudent(ctx, st); err != nil {
			t.Fatalf("UpsertStudent: %v", err)
		}
	}
	if err := repo.Enroll(ctx, "MATH", 1, []string{"s2", "s1", "s3"}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
}

func TestRepository_Roster(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewRepository(pool)
	seedSection(t, repo)

	t.Run("EnrollmentOrder", func(t *testing.T) {
		roster, err := repo.FetchRoster(ctx, "MATH", 1, "2026-03-02")
		if err != nil {
			t.Fatalf("FetchRoster: %v", err)
		}
		want := []string{"s2", "s1", "s3"}
		if len(roster.Students) != len(want) {
			t.Fatalf("got %d students, want %d", len(roster.Students), len(want))
		}
		for i, id := range want {
			if roster.Students[i].StudentID != id {
				t.Errorf("student %d: got %s, want %s", i, roster.Students[i].StudentID, id)
			}
		}
		if roster.Students[0].ReferencePath != "s2.jpg" {
			t.Errorf("unexpected reference path %q", roster.Students[0].ReferencePath)
		}
		if len(roster.PriorStatuses) != 0 {
			t.Errorf("expected no prior statuses, got %v", roster.PriorStatuses)
		}
	})

	t.Run("OtherSectionEmpty", func(t *testing.T) {
		roster, err := repo.FetchRoster(ctx, "MATH", 2, "2026-03-02")
		if err != nil {
			t.Fatalf("FetchRoster: %v", err)
		}
		if len(roster.Students) != 0 {
			t.Errorf("expected empty roster, got %d", len(roster.Students))
		}
	})
}

func TestRepository_Attendance(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewRepository(pool)
	seedSection(t, repo)
	key := attendance.SessionKey{SubjectID: "MATH", Section: 1, Date: "2026-03-02"}

	err := repo.PersistAttendance(ctx, key, []attendance.Record{
		{StudentID: "s1", Status: attendance.StatusPresent},
		{StudentID: "s2", Status: attendance.StatusAbsent},
	})
	if err != nil {
		t.Fatalf("PersistAttendance: %v", err)
	}

	// Second write for the same session replaces the status.
	err = repo.PersistAttendance(ctx, key, []attendance.Record{
		{StudentID: "s2", Status: attendance.StatusExcused},
	})
	if err != nil {
		t.Fatalf("PersistAttendance (upsert): %v", err)
	}

	roster, err := repo.FetchRoster(ctx, "MATH", 1, "2026-03-02")
	if err != nil {
		t.Fatalf("FetchRoster: %v", err)
	}
	if got := roster.PriorStatuses["s1"]; got != attendance.StatusPresent {
		t.Errorf("s1: got %q, want present", got)
	}
	if got := roster.PriorStatuses["s2"]; got != attendance.StatusExcused {
		t.Errorf("s2: got %q, want excused", got)
	}
	if _, ok := roster.PriorStatuses["s3"]; ok {
		t.Error("s3 should have no stored status")
	}

	other, err := repo.FetchPriorStatuses(ctx, attendance.SessionKey{SubjectID: "MATH", Section: 1, Date: "2026-03-09"})
	if err != nil {
		t.Fatalf("FetchPriorStatuses: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no statuses on another date, got %v", other)
	}

	err = repo.PersistAttendance(ctx, key, []attendance.Record{{StudentID: "s3", Status: attendance.StatusUnset}})
	if err == nil {
		t.Error("expected error persisting unset status")
	}

	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if err := repo.SetSessionLive(ctx, "MATH", 1, attendance.LiveActionStart, at); err != nil {
		t.Fatalf("SetSessionLive start: %v", err)
	}
	if err := repo.SetSessionLive(ctx, "MATH", 1, attendance.LiveActionEnd, at.Add(45*time.Minute)); err != nil {
		t.Fatalf("SetSessionLive end: %v", err)
	}
	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM session_log WHERE subject_id = 'MATH'").Scan(&count); err != nil {
		t.Fatalf("count session log: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 session log entries, got %d", count)
	}
}

func TestRepository_SessionWindows(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewRepository(pool)

	windows := []attendance.SessionWindow{
		{SubjectID: "MATH", Section: 2, Weekday: time.Wednesday, Start: 10 * 60, End: 11 * 60},
		{SubjectID: "MATH", Section: 1, Weekday: time.Monday, Start: 8 * 60, End: 9*60 + 30},
		{SubjectID: "PHYS", Section: 1, Weekday: time.Monday, Start: 12 * 60, End: 13 * 60},
	}
	for _, w := range windows {
		if err := repo.AddSessionWindow(ctx, w); err != nil {
			t.Fatalf("AddSessionWindow: %v", err)
		}
	}

	got, err := repo.FetchSessionWindows(ctx, "MATH")
	if err != nil {
		t.Fatalf("FetchSessionWindows: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(got))
	}
	if got[0] != windows[1] {
		t.Errorf("first window: got %+v, want %+v", got[0], windows[1])
	}
	if got[1] != windows[0] {
		t.Errorf("second window: got %+v, want %+v", got[1], windows[0])
	}

	bad := attendance.SessionWindow{SubjectID: "MATH", Section: 1, Weekday: time.Friday, Start: 9 * 60, End: 9 * 60}
	if err := repo.AddSessionWindow(ctx, bad); err == nil {
		t.Error("expected error for empty window")
	}
}

func TestRepository_DescriptorCache(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewRepository(pool)

	_, ok, err := repo.GetDescriptor(ctx, "s1", "s1.jpg")
	if err != nil {
		t.Fatalf("GetDescriptor: %v", err)
	}
	if ok {
		t.Fatal("expected cache miss")
	}

	vec := make([]float32, 512)
	for i := range vec {
		vec[i] = float32(i) / 512.0
	}
	if err := repo.SaveDescriptor(ctx, "s1", "s1.jpg", vec); err != nil {
		t.Fatalf("SaveDescriptor: %v", err)
	}
	got, ok, err := repo.GetDescriptor(ctx, "s1", "s1.jpg")
	if err != nil {
		t.Fatalf("GetDescriptor: %v", err)
	}
	if !ok || len(got) != 512 {
		t.Fatalf("expected 512-dim hit, got ok=%v len=%d", ok, len(got))
	}
	if got[10] != vec[10] {
		t.Errorf("component 10: got %v, want %v", got[10], vec[10])
	}

	// A new reference image is a separate cache entry.
	if _, ok, _ := repo.GetDescriptor(ctx, "s1", "s1-new.jpg"); ok {
		t.Error("expected miss for a different reference path")
	}

	if err := repo.SaveDescriptor(ctx, "s1", "s1.jpg", vec[:3]); err != nil {
		t.Fatalf("SaveDescriptor (replace): %v", err)
	}
	got, _, _ = repo.GetDescriptor(ctx, "s1", "s1.jpg")
	if len(got) != 3 {
		t.Errorf("expected replaced descriptor of 3 dims, got %d", len(got))
	}

	count, err := repo.CountDescriptors(ctx)
	if err != nil {
		t.Fatalf("CountDescriptors: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 cached descriptor, got %d", count)
	}
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("Failed to get applied migrations: %v", err)
	}
	if len(applied) != 1 || applied[0] != "001_initial.sql" {
		t.Errorf("unexpected applied migrations: %v", applied)
	}

	// Re-running is a no-op.
	again, err := pool.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected no pending migrations, got %v", again)
	}
}
