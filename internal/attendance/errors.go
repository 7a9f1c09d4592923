package attendance

import (
	"errors"
	"fmt"
)

var (
	// ErrCaptureUnavailable means the capture device cannot deliver frames.
	// It stops the automatic loop; manual marking stays available.
	ErrCaptureUnavailable = errors.New("capture device unavailable")

	// ErrOutsideScheduledWindow is advisory: the start was requested outside
	// every scheduled window of the section.
	ErrOutsideScheduledWindow = errors.New("outside scheduled window")

	// ErrNoReferenceDataAtAll means no enrolled student has a usable descriptor,
	// so automatic capture is not started.
	ErrNoReferenceDataAtAll = errors.New("no reference descriptors for any enrolled student")

	ErrSessionNotLive     = errors.New("session is not live")
	ErrSessionAlreadyLive = errors.New("session is already live")
	ErrSessionEnded       = errors.New("session has ended")
	ErrUnknownStudent     = errors.New("student is not enrolled in this session")
	ErrInvalidStatus      = errors.New("invalid attendance status")
)

// DescriptorLoadError is a per-student failure to build a reference descriptor.
// The student is excluded from automatic matching.
type DescriptorLoadError struct {
	StudentID string
	Path      string
	Err       error
}

func (e *DescriptorLoadError) Error() string {
	return fmt.Sprintf("load descriptor for %s (%s): %v", e.StudentID, e.Path, e.Err)
}

func (e *DescriptorLoadError) Unwrap() error {
	return e.Err
}

// PersistenceFailure is a failed flush; Pending records are retained for retry.
type PersistenceFailure struct {
	Pending int
	Err     error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persist attendance (%d pending): %v", e.Pending, e.Err)
}

func (e *PersistenceFailure) Unwrap() error {
	return e.Err
}
