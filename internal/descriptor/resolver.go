package descriptor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kozaktomas/rollcall/internal/constants"
)

// DirResolver reads reference images from a local directory. Paths are
// relative to Base and may not escape it.
type DirResolver struct {
	Base string
}

// ResolveReferenceImage implements attendance.ImageResolver.
func (r DirResolver) ResolveReferenceImage(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if !filepath.IsLocal(clean) {
		return nil, fmt.Errorf("reference path %q escapes the image directory", path)
	}

	f, err := os.Open(filepath.Join(r.Base, clean))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, constants.MaxReferenceImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read reference image: %w", err)
	}
	if len(data) > constants.MaxReferenceImageSize {
		return nil, fmt.Errorf("reference image %q exceeds %d bytes", path, constants.MaxReferenceImageSize)
	}
	return data, nil
}
