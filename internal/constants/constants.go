// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// DefaultPresenceThreshold is the maximum descriptor distance at which a detected
	// face automatically marks a student present
	DefaultPresenceThreshold = 0.48

	// DefaultDrawThreshold is the maximum distance at which a detection is still shown
	// as a tentative match to the operator
	DefaultDrawThreshold = 0.8

	// DuplicateIoUThreshold is the Intersection over Union above which two detections
	// in the same frame are treated as the same face
	DuplicateIoUThreshold = 0.6

	// DefaultHNSWMinStudents is the descriptor count from which the HNSW index is used
	// instead of a linear scan
	DefaultHNSWMinStudents = 64
)

// HNSW index parameters for roster-sized descriptor sets
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 64

	// HNSWCandidates is how many neighbors are re-scored exactly per query so that
	// ties and approximate ordering resolve deterministically.
	HNSWCandidates = 8
)

// Capture constants
const (
	// DefaultTickPeriod is the capture loop period while a session is live
	DefaultTickPeriod = 300 * time.Millisecond

	// MaxImageSize is the maximum dimension (width or height) of a frame sent to the detector
	MaxImageSize = 1280

	// SnapshotTimeout bounds a single camera snapshot request
	SnapshotTimeout = 5 * time.Second

	// MaxSnapshotFailures is how many snapshots in a row may fail before the camera counts as unavailable
	MaxSnapshotFailures = 10
)

// Sync constants
const (
	// DefaultFlushTimeout bounds a single persistence call
	DefaultFlushTimeout = 10 * time.Second

	// DefaultSessionRetention is how long an ended session stays queryable in memory
	DefaultSessionRetention = 2 * time.Hour

	// JanitorSchedule is the cron spec of the ended-session pruning job
	JanitorSchedule = "@every 10m"
)

// Descriptor loading constants
const (
	// DescriptorWorkers is the number of parallel reference image embeddings
	DescriptorWorkers = 4
)
