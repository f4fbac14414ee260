package fingerprint

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
)

// Reaper deletes staging objects in the background. Failures are logged and
// counted, never returned.
type Reaper struct {
	store     types.ObjectStore
	timeout   time.Duration
	logger    hclog.Logger
	onFailure func(path string, err error)

	wg       sync.WaitGroup
	failures atomic.Int64
}

// NewReaper creates a reaper that gives each deletion its own timeout.
func NewReaper(store types.ObjectStore, timeout time.Duration, logger hclog.Logger) *Reaper {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Reaper{
		store:   store,
		timeout: timeout,
		logger:  logger.Named("reaper"),
	}
}

// OnFailure registers a hook called after a failed deletion. It must be set
// before the first Reap.
func (r *Reaper) OnFailure(fn func(path string, err error)) {
	r.onFailure = fn
}

// Reap schedules path for deletion and returns immediately.
func (r *Reaper) Reap(path string) {
	if path == "" {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.store.Delete(ctx, path); err != nil {
			r.failures.Add(1)
			r.logger.Warn("failed to delete staging object", "path", path, "error", err)
			if r.onFailure != nil {
				r.onFailure(path, err)
			}
			return
		}
		r.logger.Debug("staging object deleted", "path", path)
	}()
}

// Wait blocks until every scheduled deletion has finished.
func (r *Reaper) Wait() {
	r.wg.Wait()
}

// Failures returns the number of failed deletions so far.
func (r *Reaper) Failures() int64 {
	return r.failures.Load()
}
