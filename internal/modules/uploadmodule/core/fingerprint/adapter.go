// Package fingerprint stages audio for the recognition API, normalizes its
// answer and cleans up the staged copy afterwards.
package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/validation"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	"github.com/mantonx/tunevault/internal/utils"
)

// Config holds the adapter's staging location and deadlines.
type Config struct {
	StagingPrefix    string
	StagingTimeout   time.Duration
	RecognizeTimeout time.Duration
}

// Adapter runs one recognition per call. It never returns an error: every
// failure is folded into a FingerprintError.
type Adapter struct {
	store      types.ObjectStore
	recognizer types.Recognizer
	reaper     *Reaper
	cfg        Config
	logger     hclog.Logger
}

// NewAdapter wires the adapter to its collaborators.
func NewAdapter(store types.ObjectStore, recognizer types.Recognizer, reaper *Reaper, cfg Config, logger hclog.Logger) *Adapter {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.StagingPrefix == "" {
		cfg.StagingPrefix = "staging/fingerprint"
	}
	return &Adapter{
		store:      store,
		recognizer: recognizer,
		reaper:     reaper,
		cfg:        cfg,
		logger:     logger.Named("fingerprint"),
	}
}

// Check stages audio and asks the recognizer what it is.
func (a *Adapter) Check(ctx context.Context, audio types.FileRef, artistHint string) types.FingerprintResult {
	file, err := os.Open(audio.URI)
	if err != nil {
		return types.FingerprintError{Reason: "audio file could not be read", Code: types.FingerprintInvalidFile}
	}
	defer file.Close()

	stagingPath := utils.ObjectKey(a.cfg.StagingPrefix, nameOf(audio))

	stageCtx, cancelStage := withTimeout(ctx, a.cfg.StagingTimeout)
	staged, err := a.store.Put(stageCtx, stagingPath, file, audio.Size, validation.ContentType(audio))
	if err != nil {
		result := failure(stageCtx, fmt.Sprintf("failed to stage audio: %v", err))
		cancelStage()
		a.logger.Warn("failed to stage audio", "path", stagingPath, "error", err)
		// A partial write may exist.
		a.reap(stagingPath)
		return result
	}
	cancelStage()
	defer a.reap(staged.Path)

	recCtx, cancelRec := withTimeout(ctx, a.cfg.RecognizeTimeout)
	defer cancelRec()

	start := time.Now()
	resp, err := a.recognizer.Recognize(recCtx, types.RecognitionRequest{
		AudioFileURL:   staged.URL,
		ArtistNameHint: strings.TrimSpace(artistHint),
	})
	if err != nil {
		a.logger.Warn("recognition failed", "error", err, "duration", time.Since(start))
		return failure(recCtx, err.Error())
	}

	result := Normalize(resp)
	a.logger.Debug("recognition finished", "outcome", result.Outcome(), "duration", time.Since(start))
	return result
}

func (a *Adapter) reap(path string) {
	if a.reaper != nil {
		a.reaper.Reap(path)
	}
}

// Normalize maps a raw recognition envelope onto a FingerprintResult.
func Normalize(resp *types.RecognitionResponse) types.FingerprintResult {
	if resp == nil {
		return types.FingerprintError{Reason: "empty response from recognition service", Code: types.FingerprintAPIError}
	}
	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = "recognition service reported a failure"
		}
		return types.FingerprintError{Reason: reason, Code: errorCode(resp.ErrorCode)}
	}
	if !resp.MatchFound || (resp.DetectedTitle == "" && resp.DetectedArtist == "") {
		return types.NoMatch{}
	}
	return types.Match{
		Title:            resp.DetectedTitle,
		Artist:           resp.DetectedArtist,
		Album:            resp.DetectedAlbum,
		Label:            resp.DetectedLabel,
		ISRC:             strings.TrimSpace(resp.DetectedISRC),
		ArtistConfidence: resp.ArtistConfidence,
		ArtistMatch:      resp.ArtistMatch,
	}
}

func errorCode(code string) types.FingerprintErrorCode {
	switch types.FingerprintErrorCode(strings.ToLower(code)) {
	case types.FingerprintQuotaExceeded:
		return types.FingerprintQuotaExceeded
	case types.FingerprintTimeout:
		return types.FingerprintTimeout
	case types.FingerprintInvalidFile:
		return types.FingerprintInvalidFile
	default:
		return types.FingerprintAPIError
	}
}

// failure classifies a transport error, reporting our own deadline as a
// timeout.
func failure(ctx context.Context, reason string) types.FingerprintError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.FingerprintError{Reason: "recognition timed out", Code: types.FingerprintTimeout}
	}
	return types.FingerprintError{Reason: reason, Code: types.FingerprintAPIError}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func nameOf(f types.FileRef) string {
	if f.Name != "" {
		return f.Name
	}
	return f.URI
}
