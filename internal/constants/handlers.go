// Package constants provides shared constants used across the codebase.
package constants

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// Request body constants
const (
	// MaxRequestBodySize caps JSON request bodies (1MB)
	MaxRequestBodySize = 1 << 20

	// MaxReferenceImageSize caps a downloaded reference image or frame (20MB)
	MaxReferenceImageSize = 20 << 20
)
