package database

import (
	"context"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

// PriorStatusReader is implemented by stores that can report statuses already
// persisted for a session.
type PriorStatusReader interface {
	FetchPriorStatuses(ctx context.Context, key attendance.SessionKey) (map[string]attendance.Status, error)
}

// DescriptorCounter is implemented by descriptor caches that can report their size.
type DescriptorCounter interface {
	CountDescriptors(ctx context.Context) (int, error)
}
