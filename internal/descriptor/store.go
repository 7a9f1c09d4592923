// Package descriptor builds the reference descriptor set of a session: one
// face descriptor per enrolled student, searchable by distance.
package descriptor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/constants"
)

var (
	errNoEmbedder  = errors.New("no face embedding service configured")
	errNoFace      = errors.New("no face found in reference image")
	errDimMismatch = errors.New("descriptor dimension does not match the rest of the roster")
)

// Embedder detects faces in an image.
type Embedder interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]attendance.Detection, error)
}

// Cache persists descriptors computed from reference images, keyed by
// student and reference path.
type Cache interface {
	GetDescriptor(ctx context.Context, studentID, path string) ([]float32, bool, error)
	SaveDescriptor(ctx context.Context, studentID, path string, descriptor []float32) error
}

// Entry is one student with a usable reference descriptor.
type Entry struct {
	StudentID   string
	DisplayName string
	Descriptor  []float32
}

// Set is the immutable descriptor set of one session. Entries keep roster
// (enrollment) order.
type Set struct {
	entries     []Entry
	byID        map[string]int
	index       Index
	metric      Metric
	noReference []string
	failures    []*attendance.DescriptorLoadError
}

// NewSet indexes entries. A linear scan is used below hnswMin entries; hnswMin <= 0 disables HNSW.
func NewSet(entries []Entry, metric Metric, hnswMin int) *Set {
	s := &Set{
		entries: entries,
		byID:    make(map[string]int, len(entries)),
		metric:  metric,
	}
	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		s.byID[e.StudentID] = i
		vectors[i] = e.Descriptor
	}
	if hnswMin > 0 && len(entries) >= hnswMin {
		s.index = NewHNSWIndex(vectors, metric)
	} else {
		s.index = NewLinearIndex(vectors, metric.Func())
	}
	return s
}

// Len returns the number of students usable for automatic matching.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entry returns the entry at an enrollment position.
func (s *Set) Entry(pos int) Entry {
	return s.entries[pos]
}

// Has reports whether the student has a descriptor.
func (s *Set) Has(studentID string) bool {
	if s == nil {
		return false
	}
	_, ok := s.byID[studentID]
	return ok
}

// Metric returns the distance metric of the set.
func (s *Set) Metric() Metric {
	return s.metric
}

// Nearest returns the k closest entries to query.
func (s *Set) Nearest(query []float32, k int) []Candidate {
	if s.Len() == 0 {
		return nil
	}
	return s.index.Nearest(query, k)
}

// NoReference lists students without any reference image. They can only be
// marked manually.
func (s *Set) NoReference() []string {
	return s.noReference
}

// Failures lists students whose reference could not be turned into a descriptor.
func (s *Set) Failures() []*attendance.DescriptorLoadError {
	return s.failures
}

// Options configures a Store.
type Options struct {
	Metric          Metric
	HNSWMinStudents int
	Workers         int
	// OnProgress is called after each student that needed an image lookup.
	OnProgress func(done, total int)
}

// Store loads descriptor sets.
type Store struct {
	images   attendance.ImageResolver
	embedder Embedder
	cache    Cache
	opts     Options
	logger   *zap.Logger
}

// NewStore creates a store. cache may be nil.
func NewStore(images attendance.ImageResolver, embedder Embedder, cache Cache, opts Options, logger *zap.Logger) *Store {
	if opts.Metric == "" {
		opts.Metric = MetricEuclidean
	}
	if opts.Workers <= 0 {
		opts.Workers = constants.DescriptorWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		images:   images,
		embedder: embedder,
		cache:    cache,
		opts:     opts,
		logger:   logger,
	}
}

// Load builds one descriptor per student with a valid reference. Per-student
// failures are recorded in Set.Failures and never abort the load; only
// context cancellation does.
func (s *Store) Load(ctx context.Context, students []attendance.EnrolledStudent) (*Set, error) {
	var (
		unique      []attendance.EnrolledStudent
		noReference []string
	)
	seen := make(map[string]bool, len(students))
	for _, st := range students {
		if st.StudentID == "" || seen[st.StudentID] {
			continue
		}
		seen[st.StudentID] = true
		unique = append(unique, st)
		if len(st.Descriptor) == 0 && st.ReferencePath == "" {
			noReference = append(noReference, st.StudentID)
		}
	}

	descriptors := make([][]float32, len(unique))
	loadErrs := make([]error, len(unique))

	var pending []int
	for i, st := range unique {
		switch {
		case len(st.Descriptor) > 0:
			descriptors[i] = st.Descriptor
		case st.ReferencePath != "":
			pending = append(pending, i)
		}
	}

	var done int64
	sem := make(chan struct{}, s.opts.Workers)
	var wg sync.WaitGroup
	for _, i := range pending {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			descriptors[i], loadErrs[i] = s.compute(ctx, unique[i])
			count := atomic.AddInt64(&done, 1)
			if s.opts.OnProgress != nil {
				s.opts.OnProgress(int(count), len(pending))
			}
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load descriptors: %w", err)
	}

	var (
		entries  []Entry
		failures []*attendance.DescriptorLoadError
		dim      = commonDimension(descriptors, loadErrs)
	)
	for i, st := range unique {
		err := loadErrs[i]
		d := descriptors[i]
		if err == nil && len(d) == 0 {
			continue
		}
		if err == nil && len(d) != dim {
			err = errDimMismatch
		}
		if err != nil {
			loadErr := &attendance.DescriptorLoadError{StudentID: st.StudentID, Path: st.ReferencePath, Err: err}
			failures = append(failures, loadErr)
			s.logger.Warn("student excluded from automatic matching",
				zap.String("student_id", st.StudentID),
				zap.String("path", st.ReferencePath),
				zap.Error(err))
			continue
		}
		entries = append(entries, Entry{StudentID: st.StudentID, DisplayName: st.DisplayName, Descriptor: d})
	}

	set := NewSet(entries, s.opts.Metric, s.opts.HNSWMinStudents)
	set.noReference = noReference
	set.failures = failures

	s.logger.Info("descriptor set loaded",
		zap.Int("students", len(unique)),
		zap.Int("descriptors", len(entries)),
		zap.Int("no_reference", len(noReference)),
		zap.Int("failures", len(failures)),
		zap.String("metric", string(s.opts.Metric)))

	return set, nil
}

// compute resolves one reference image into a descriptor, going through the cache.
func (s *Store) compute(ctx context.Context, st attendance.EnrolledStudent) ([]float32, error) {
	if s.cache != nil {
		d, ok, err := s.cache.GetDescriptor(ctx, st.StudentID, st.ReferencePath)
		if err != nil {
			s.logger.Debug("descriptor cache lookup failed", zap.String("student_id", st.StudentID), zap.Error(err))
		} else if ok && len(d) > 0 {
			return d, nil
		}
	}

	if s.embedder == nil {
		return nil, errNoEmbedder
	}
	if s.images == nil {
		return nil, errors.New("no reference image resolver configured")
	}

	data, err := s.images.ResolveReferenceImage(ctx, st.ReferencePath)
	if err != nil {
		return nil, fmt.Errorf("resolve reference image: %w", err)
	}

	faces, err := s.embedder.DetectFaces(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	best := -1
	for i, f := range faces {
		if len(f.Descriptor) == 0 {
			continue
		}
		if best < 0 || f.DetScore > faces[best].DetScore {
			best = i
		}
	}
	if best < 0 {
		return nil, errNoFace
	}
	d := faces[best].Descriptor

	if s.cache != nil {
		if err := s.cache.SaveDescriptor(ctx, st.StudentID, st.ReferencePath, d); err != nil {
			s.logger.Warn("failed to cache descriptor", zap.String("student_id", st.StudentID), zap.Error(err))
		}
	}
	return d, nil
}

// commonDimension returns the length shared by most loaded descriptors. On a
// tie the length that reached the count first wins. A stale cache entry then
// cannot set the dimension for the whole roster.
func commonDimension(descriptors [][]float32, errs []error) int {
	counts := make(map[int]int)
	best, bestCount := 0, 0
	for i, d := range descriptors {
		if errs[i] != nil || len(d) == 0 {
			continue
		}
		counts[len(d)]++
		if c := counts[len(d)]; c > bestCount {
			best, bestCount = len(d), c
		}
	}
	return best
}
