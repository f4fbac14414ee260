package quota

import (
	"context"
	"sync"

	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
)

// Snapshot is a session's local copy of its quota. Only Refresh and
// RecordUpload write to it.
type Snapshot struct {
	mu    sync.RWMutex
	quota *types.UploadQuota
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// Refresh replaces the snapshot with the server's view.
func (s *Snapshot) Refresh(ctx context.Context, gate *Gate, userID string) (types.UploadQuota, error) {
	quota, err := gate.Fetch(ctx, userID)
	if err != nil {
		return types.UploadQuota{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota = &quota
	return quota.Clone(), nil
}

// RecordUpload applies a successful upload of tracks tracks totalling size
// bytes without waiting for the server. The backend counts every album track
// as one upload, so an album passes its track count.
func (s *Snapshot) RecordUpload(tracks int, size int64) (types.UploadQuota, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quota == nil {
		return types.UploadQuota{}, false
	}

	if tracks < 1 {
		tracks = 1
	}

	q := s.quota
	q.UploadsThisMonth += tracks
	if !q.IsUnlimited && q.Remaining != nil {
		remaining := *q.Remaining - tracks
		if remaining < 0 {
			remaining = 0
		}
		q.Remaining = &remaining
		q.CanUpload = remaining > 0
	}

	q.Storage.Used += size
	if q.Storage.Limit != nil && *q.Storage.Limit > 0 {
		q.Storage.PercentUsed = float64(q.Storage.Used) / float64(*q.Storage.Limit) * 100
	}
	return q.Clone(), true
}

// Current returns a copy of the snapshot, and false before the first
// refresh.
func (s *Snapshot) Current() (types.UploadQuota, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.quota == nil {
		return types.UploadQuota{}, false
	}
	return s.quota.Clone(), true
}
