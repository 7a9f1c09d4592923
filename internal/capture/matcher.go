package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// Detector finds faces in an encoded image.
type Detector interface {
	DetectFaces(ctx context.Context, imageData []byte) ([]attendance.Detection, error)
}

// Frame is the outcome of one capture cycle. Width, Height and detection
// boxes are in the pixels of the captured image.
type Frame struct {
	CapturedAt time.Time
	Width      int
	Height     int
	Detections []attendance.Detection
}

// Matcher owns the capture device for one live session.
type Matcher struct {
	source       Source
	detector     Detector
	maxImageSize int
	logger       *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewMatcher creates a frame matcher. maxImageSize <= 0 uses constants.MaxImageSize.
func NewMatcher(source Source, detector Detector, maxImageSize int, logger *zap.Logger) *Matcher {
	if maxImageSize <= 0 {
		maxImageSize = constants.MaxImageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		source:       source,
		detector:     detector,
		maxImageSize: maxImageSize,
		logger:       logger,
	}
}

// CaptureAndDetect grabs a frame and detects the faces in it. A frame with
// no faces is not an error. Device failures wrap attendance.ErrCaptureUnavailable.
func (m *Matcher) CaptureAndDetect(ctx context.Context) (*Frame, error) {
	data, err := m.source.Frame(ctx)
	if err != nil {
		return nil, err
	}
	capturedAt := time.Now()

	scaled, width, height, factor, err := downscale(data, m.maxImageSize)
	if err != nil {
		return nil, err
	}

	dets, err := m.detector.DetectFaces(ctx, scaled)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	dets = facematch.SuppressDuplicates(dets, constants.DuplicateIoUThreshold)
	if factor != 1 {
		// boxes are reported in original frame pixels
		mapped := make([]attendance.Detection, len(dets))
		for i, d := range dets {
			d.BBox = facematch.ScaleBBox(d.BBox, factor)
			mapped[i] = d
		}
		dets = mapped
	}

	m.logger.Debug("frame processed",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("faces", len(dets)))

	return &Frame{
		CapturedAt: capturedAt,
		Width:      width,
		Height:     height,
		Detections: dets,
	}, nil
}

// Close releases the capture device. Safe to call more than once.
func (m *Matcher) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.source.Close()
	})
	return m.closeErr
}
