// Package capture acquires frames from a camera and turns them into face
// detections for the live session loop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/constants"
)

// Source delivers encoded frames. A device that is gone for good is reported
// as attendance.ErrCaptureUnavailable; any other error only loses one frame.
type Source interface {
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}

// SnapshotSource fetches a still image from an IP camera snapshot URL.
type SnapshotSource struct {
	url    string
	client *http.Client

	mu       sync.Mutex
	closed   bool
	failures int // consecutive failed snapshots
}

// NewSnapshotSource creates a snapshot source.
func NewSnapshotSource(url string) *SnapshotSource {
	return &SnapshotSource{
		url: url,
		client: &http.Client{
			Timeout:   constants.SnapshotTimeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
	}
}

// Frame fetches one snapshot. A refused or unroutable connection, or
// constants.MaxSnapshotFailures failures in a row, make the camera unavailable.
func (s *SnapshotSource) Frame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: source closed", attendance.ErrCaptureUnavailable)
	}

	data, err := s.fetch(ctx)
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.failures = 0
		return data, nil
	}
	s.failures++
	if errors.Is(err, attendance.ErrCaptureUnavailable) {
		return nil, err
	}
	if s.failures >= constants.MaxSnapshotFailures {
		return nil, fmt.Errorf("%w: %d snapshots failed in a row: %v", attendance.ErrCaptureUnavailable, s.failures, err)
	}
	return nil, err
}

func (s *SnapshotSource) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", attendance.ErrCaptureUnavailable, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if unreachable(err) {
			return nil, fmt.Errorf("%w: %v", attendance.ErrCaptureUnavailable, err)
		}
		return nil, fmt.Errorf("camera snapshot failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("camera snapshot returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, constants.MaxReferenceImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// unreachable reports whether a transport error means nothing is listening
// at the camera address.
func unreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// Close releases idle camera connections. Later frames fail.
func (s *SnapshotSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// DirSource replays the images of a directory in name order, cycling.
type DirSource struct {
	dir string

	mu     sync.Mutex
	files  []string
	next   int
	closed bool
}

// NewDirSource creates a directory replay source.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Frame returns the next image of the directory.
func (d *DirSource) Frame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("%w: source closed", attendance.ErrCaptureUnavailable)
	}
	if d.files == nil {
		files, err := listImages(d.dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", attendance.ErrCaptureUnavailable, err)
		}
		d.files = files
	}

	path := d.files[d.next%len(d.files)]
	d.next++

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", attendance.ErrCaptureUnavailable, err)
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	return data, nil
}

// Close stops the replay.
func (d *DirSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}
