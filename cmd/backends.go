package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/database/mariadb"
	"github.com/kozaktomas/rollcall/internal/database/postgres"
	"github.com/kozaktomas/rollcall/internal/descriptor"
	"github.com/kozaktomas/rollcall/internal/facematch"
	"github.com/kozaktomas/rollcall/internal/fingerprint"
	"github.com/kozaktomas/rollcall/internal/logger"
	"github.com/kozaktomas/rollcall/internal/rollcall"
	"github.com/kozaktomas/rollcall/internal/session"
)

// app bundles what every command needs after configuration.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	location *time.Location
	collab   attendance.Collaborator
	roster   attendance.RosterSource
	closers  []func() error
}

// loadConfig loads and validates the configuration and builds the logger.
func loadConfig() (*config.Config, *zap.Logger, *time.Location, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, loc, nil
}

// setupRuntime connects every configured backend and composes the
// collaborator used by sessions.
func setupRuntime(ctx context.Context) (*app, error) {
	cfg, log, loc, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt := &app{cfg: cfg, logger: log, location: loc}

	if cfg.Database.URL != "" {
		fmt.Printf("Connecting to PostgreSQL database...\n")
		if err := postgres.Initialize(&cfg.Database); err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		rt.closers = append(rt.closers, postgres.GetGlobalPool().Close)
	}

	if cfg.Legacy.DatabaseURL != "" {
		fmt.Println("Connecting to school information system (MariaDB)...")
		pool, err := mariadb.NewPool(cfg.Legacy.DatabaseURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to connect to MariaDB: %w", err)
		}
		database.RegisterLegacyRoster(func() attendance.RosterSource { return pool })
		rt.closers = append(rt.closers, pool.Close)
	}

	if cfg.Rollcall.URL != "" {
		client, err := rollcall.NewClient(cfg.Rollcall.URL, cfg.Rollcall.Token)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("invalid ROLLCALL_API_URL: %w", err)
		}
		if err := client.Ping(ctx); err != nil {
			log.Warn("rollcall API not reachable", zap.Error(err))
		}
		database.RegisterRemote(func() attendance.Collaborator { return client })
	}

	roster, err := database.GetRosterSource(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	store, err := database.GetAttendanceStore(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var images attendance.ImageResolver
	if remote, ok := database.GetRemoteImageResolver(ctx); ok {
		images = remote
	} else if cfg.Reference.Dir != "" {
		images = descriptor.DirResolver{Base: cfg.Reference.Dir}
	}

	collab, err := database.Compose(roster, store, images)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.collab = collab
	rt.roster = roster
	return rt, nil
}

// Close releases the backend connections.
func (rt *app) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("closing backend", zap.Error(err))
		}
	}
	rt.closers = nil
	_ = rt.logger.Sync()
}

// descriptorStore builds the reference descriptor loader.
func (rt *app) descriptorStore(ctx context.Context, onProgress func(done, total int)) (*descriptor.Store, error) {
	metric, err := descriptor.ParseMetric(rt.cfg.Matching.Metric)
	if err != nil {
		return nil, err
	}
	return descriptor.NewStore(
		rt.collab,
		fingerprint.NewFaceClient(rt.cfg.Embedding.URL),
		database.GetDescriptorCache(ctx),
		descriptor.Options{
			Metric:          metric,
			HNSWMinStudents: rt.cfg.Matching.HNSWMinStudents,
			OnProgress:      onProgress,
		},
		rt.logger,
	), nil
}

// matcherFactory opens the configured camera when a session goes live. It
// returns nil when no capture source is configured.
func (rt *app) matcherFactory() func(ctx context.Context) (*capture.Matcher, error) {
	cam := rt.cfg.Camera
	if cam.SnapshotURL == "" && cam.FrameDir == "" {
		return nil
	}
	detector := fingerprint.NewFaceClient(rt.cfg.Embedding.URL)
	return func(ctx context.Context) (*capture.Matcher, error) {
		var source capture.Source
		switch {
		case cam.SnapshotURL != "":
			source = capture.NewSnapshotSource(cam.SnapshotURL)
		case cam.FrameDir != "":
			source = capture.NewDirSource(cam.FrameDir)
		default:
			return nil, errors.New("no capture source configured")
		}
		return capture.NewMatcher(source, detector, cam.MaxImageSize, rt.logger.Named("capture")), nil
	}
}

// sessionDeps wires the session collaborators.
func (rt *app) sessionDeps(ctx context.Context) (session.Deps, session.Options, error) {
	store, err := rt.descriptorStore(ctx, nil)
	if err != nil {
		return session.Deps{}, session.Options{}, err
	}
	deps := session.Deps{
		Roster:      rt.collab,
		Store:       rt.collab,
		Descriptors: store,
		NewMatcher:  rt.matcherFactory(),
		Location:    rt.location,
		Logger:      rt.logger.Named("session"),
	}
	opts := session.Options{
		Thresholds: facematch.Thresholds{
			Presence: rt.cfg.Matching.PresenceThreshold,
			Draw:     rt.cfg.Matching.DrawThreshold,
		},
		TickPeriod:   rt.cfg.Capture.Tick,
		FlushTimeout: rt.cfg.Sync.FlushTimeout,
	}
	return deps, opts, nil
}
