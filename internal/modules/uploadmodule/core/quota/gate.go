// Package quota checks the account's upload allowance before a transfer
// starts and keeps the session's view of it up to date.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	apptypes "github.com/mantonx/tunevault/internal/types"
)

// Source is the part of the backend the gate reads.
type Source interface {
	GetQuota(ctx context.Context, userID string) (*types.UploadQuota, error)
	GetUsageLimits(ctx context.Context, userID string) (*types.UsageLimits, error)
}

// Gate decides whether an upload may start.
type Gate struct {
	source  Source
	upload  config.UploadConfig
	timeout time.Duration
	logger  hclog.Logger
}

// NewGate creates a gate using the tier messages and quota timeout from cfg.
func NewGate(source Source, cfg config.UploadConfig, logger hclog.Logger) *Gate {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Gate{
		source:  source,
		upload:  cfg,
		timeout: cfg.Timeouts.Quota,
		logger:  logger.Named("quota"),
	}
}

// Fetch returns the account's current quota.
func (g *Gate) Fetch(ctx context.Context, userID string) (types.UploadQuota, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	quota, err := g.source.GetQuota(ctx, userID)
	if err != nil {
		return types.UploadQuota{}, apptypes.NewInternalError("failed to check upload quota", err).
			WithUserMessage("Could not check your upload quota. Please try again.")
	}
	if quota == nil {
		return types.UploadQuota{}, fmt.Errorf("backend returned no quota for %s", userID)
	}
	return quota.Clone(), nil
}

// Check fails with a gate error when the account is out of uploads or the
// file does not fit in the remaining storage. A failed storage lookup does
// not block the upload.
func (g *Gate) Check(ctx context.Context, userID string, fileSize int64) (types.UploadQuota, error) {
	quota, err := g.Fetch(ctx, userID)
	if err != nil {
		return types.UploadQuota{}, err
	}

	if !quota.CanUpload {
		return quota, apptypes.NewGateError(apptypes.ErrorCodeQuotaExceeded,
			"monthly upload limit reached", g.upload.UpgradeMessage(quota.Tier)).
			WithContext("tier", quota.Tier)
	}

	limitsCtx, cancel := g.withTimeout(ctx)
	defer cancel()

	usage, err := g.source.GetUsageLimits(limitsCtx, userID)
	if err != nil {
		g.logger.Warn("storage limit check failed, allowing upload", "user_id", userID, "error", err)
		return quota, nil
	}
	if usage == nil {
		return quota, nil
	}

	if remaining, limited := usage.RemainingStorage(); limited && fileSize > remaining {
		return quota, apptypes.NewGateError(apptypes.ErrorCodeStorageExceeded,
			fmt.Sprintf("file needs %d bytes but only %d remain", fileSize, remaining),
			g.upload.StorageExceededMessage).
			WithContext("remaining_bytes", remaining)
	}
	return quota, nil
}

func (g *Gate) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}
