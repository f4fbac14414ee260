// Package orchestrator runs the upload sequence for single tracks and
// albums: audio, then artwork, then the metadata records.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/quota"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/validation"
	uploaderrors "github.com/mantonx/tunevault/internal/modules/uploadmodule/errors"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	apptypes "github.com/mantonx/tunevault/internal/types"
	"github.com/mantonx/tunevault/internal/utils"
)

// Album tracks skip fingerprinting.
const provenanceNotChecked = "not_checked"

// ArtworkNormalizer converts cover art before it is stored.
type ArtworkNormalizer interface {
	Normalize(data []byte, mimeType string) ([]byte, string)
}

// Config holds object key prefixes and step deadlines.
type Config struct {
	AudioPrefix   string
	ArtworkPrefix string
	Timeouts      config.TimeoutsConfig
}

// TrackSubmission is everything needed to upload one track.
type TrackSubmission struct {
	UserID      string
	Candidate   types.UploadCandidate
	Form        types.TrackForm
	Attestation types.Attestation
	Provenance  types.ProvenanceState
	ISRC        types.IsrcVerification
}

// TrackResult describes a finished single-track upload.
type TrackResult struct {
	TrackID  string             `json:"track_id"`
	Audio    types.StoredObject `json:"audio"`
	CoverURL string             `json:"cover_url,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// AlbumSubmission is everything needed to upload an album.
type AlbumSubmission struct {
	UserID      string
	Album       types.AlbumCandidate
	Attestation types.Attestation
}

// AlbumResult describes an album upload. After a track failure it still
// holds the album ID and the tracks written before the failure.
type AlbumResult struct {
	AlbumID    string   `json:"album_id"`
	CoverURL   string   `json:"cover_url,omitempty"`
	TrackIDs   []string `json:"track_ids"`
	TotalBytes int64    `json:"total_bytes"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Orchestrator runs at most one upload at a time.
type Orchestrator struct {
	store     types.ObjectStore
	backend   types.Backend
	gate      *quota.Gate
	validator *validation.Validator
	artwork   ArtworkNormalizer
	cfg       Config
	logger    hclog.Logger
	now       func() time.Time

	inFlight atomic.Bool
}

// New creates an orchestrator. artwork may be nil.
func New(store types.ObjectStore, backend types.Backend, gate *quota.Gate, validator *validation.Validator, artwork ArtworkNormalizer, cfg Config, logger hclog.Logger) *Orchestrator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cfg.AudioPrefix == "" {
		cfg.AudioPrefix = "audio"
	}
	if cfg.ArtworkPrefix == "" {
		cfg.ArtworkPrefix = "artwork"
	}
	return &Orchestrator{
		store:     store,
		backend:   backend,
		gate:      gate,
		validator: validator,
		artwork:   artwork,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		now:       time.Now,
	}
}

// InFlight reports whether an upload is running.
func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

// SubmitTrack uploads a single track. Progress is reset to 0 on failure.
func (o *Orchestrator) SubmitTrack(ctx context.Context, sub TrackSubmission, progress ProgressFunc) (*TrackResult, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, inProgress()
	}
	defer o.inFlight.Store(false)

	p := newTracker(progress)
	result, err := o.submitTrack(ctx, sub, p)
	if err != nil {
		p.reset()
		o.logger.Warn("track upload failed", "user_id", sub.UserID, "error", err)
		return nil, err
	}
	o.logger.Info("track uploaded", "user_id", sub.UserID, "track_id", result.TrackID)
	return result, nil
}

func (o *Orchestrator) submitTrack(ctx context.Context, sub TrackSubmission, p *tracker) (*TrackResult, error) {
	audio := sub.Candidate.Audio
	if audio.IsZero() {
		return nil, uploaderrors.ErrNoCandidate
	}
	if err := o.validateTrack(sub); err != nil {
		return nil, err
	}

	if _, err := o.gate.Check(ctx, sub.UserID, audio.Size); err != nil {
		return nil, err
	}

	stored, err := o.transferAudio(ctx, sub.UserID, audio)
	if err != nil {
		return nil, apptypes.NewTransferError(apptypes.ErrorCodeTransferFailed, "audio upload failed", err)
	}
	p.set(50)

	result := &TrackResult{Audio: stored}
	if sub.Candidate.Cover != nil && !sub.Candidate.Cover.IsZero() {
		coverURL, err := o.transferCover(ctx, sub.UserID, *sub.Candidate.Cover)
		if err != nil {
			o.logger.Warn("cover upload failed, continuing without artwork", "user_id", sub.UserID, "error", err)
			result.Warnings = append(result.Warnings, "Cover art could not be uploaded. The track was published without it.")
		} else {
			result.CoverURL = coverURL
		}
	}
	p.set(60)

	record := o.trackRecord(sub, stored, result.CoverURL)
	recordCtx, cancel := withTimeout(ctx, o.cfg.Timeouts.Record)
	defer cancel()

	trackID, err := o.backend.CreateTrack(recordCtx, record)
	if err != nil {
		return nil, apptypes.NewTransferError(apptypes.ErrorCodeRecordFailed, "failed to save track", err)
	}
	result.TrackID = trackID
	p.set(100)
	return result, nil
}

func (o *Orchestrator) validateTrack(sub TrackSubmission) error {
	if strings.TrimSpace(sub.Form.Title) == "" {
		return apptypes.NewMissingFieldError("title")
	}
	if sub.Form.Privacy != "" && !sub.Form.Privacy.Valid() {
		return apptypes.NewValidationError("invalid privacy level", string(sub.Form.Privacy))
	}
	if sub.Candidate.Kind != "" && !sub.Candidate.Kind.Valid() {
		return apptypes.NewValidationError("invalid content kind", string(sub.Candidate.Kind))
	}
	if err := o.validator.ValidateAudio(sub.Candidate.Audio).Err(sub.Candidate.Audio.Name); err != nil {
		return err
	}
	if cover := sub.Candidate.Cover; cover != nil && !cover.IsZero() {
		if err := o.validator.ValidateCover(*cover, validation.CoverSingle).Err(cover.Name); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) trackRecord(sub TrackSubmission, audio types.StoredObject, coverURL string) types.TrackRecord {
	kind := sub.Candidate.Kind
	if kind == "" {
		kind = types.ContentKindMusic
	}
	privacy := sub.Form.Privacy
	if privacy == "" {
		privacy = types.PrivacyPublic
	}

	state := sub.Provenance
	if state == nil {
		state = types.ProvenanceIdle{}
	}

	record := types.TrackRecord{
		UserID:           sub.UserID,
		Kind:             kind,
		Title:            strings.TrimSpace(sub.Form.Title),
		Description:      strings.TrimSpace(sub.Form.Description),
		Tags:             types.ParseTags(sub.Form.Tags),
		Genre:            strings.TrimSpace(sub.Form.Genre),
		Privacy:          privacy,
		Explicit:         sub.Form.Explicit,
		Lyrics:           sub.Form.Lyrics,
		AudioPath:        audio.Path,
		AudioURL:         audio.URL,
		AudioSize:        audio.Size,
		ContentType:      validation.ContentType(sub.Candidate.Audio),
		CoverURL:         coverURL,
		IsCover:          sub.Attestation.CoverSong,
		ProvenanceStatus: state.Name(),
		Attestation: types.CopyrightAttestation{
			OriginalWork: sub.Attestation.OriginalWork,
			CoverSong:    sub.Attestation.CoverSong,
			AttestedAt:   o.now().UTC(),
			Device:       sub.Attestation.Device,
		},
	}

	switch s := state.(type) {
	case types.ProvenanceMatched:
		record.Fingerprint = types.FingerprintSnapshot(s.Match)
	case types.ProvenanceUnmatched:
		record.Fingerprint = types.FingerprintSnapshot(types.NoMatch{})
	case types.ProvenanceFailed:
		record.Fingerprint = types.FingerprintSnapshot(s.Error)
		record.ManualReview = s.Error.RequiresManualReview()
	}

	if verified, ok := sub.ISRC.Verified(); ok {
		record.ISRC = verified.Recording.ISRC
		record.ISRCVerified = true
	}
	return record
}

// SubmitAlbum uploads an album. A failing track stops the sequence; records
// already written are kept and the error names the track and the album.
func (o *Orchestrator) SubmitAlbum(ctx context.Context, sub AlbumSubmission, progress ProgressFunc) (*AlbumResult, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, inProgress()
	}
	defer o.inFlight.Store(false)

	p := newTracker(progress)
	result, err := o.submitAlbum(ctx, sub, p)
	if err != nil {
		p.reset()
		if result != nil && result.AlbumID != "" {
			o.logger.Error("album upload aborted", "user_id", sub.UserID, "album_id", result.AlbumID,
				"tracks_written", len(result.TrackIDs), "error", err)
		} else {
			o.logger.Warn("album upload failed", "user_id", sub.UserID, "error", err)
		}
		return result, err
	}
	o.logger.Info("album uploaded", "user_id", sub.UserID, "album_id", result.AlbumID, "tracks", len(result.TrackIDs))
	return result, nil
}

func (o *Orchestrator) submitAlbum(ctx context.Context, sub AlbumSubmission, p *tracker) (*AlbumResult, error) {
	album := sub.Album
	tracks, err := o.validateAlbum(album)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, track := range tracks {
		total += track.Audio.Size
	}

	if err := o.checkAlbumAllowed(ctx, sub.UserID, len(tracks)); err != nil {
		return nil, err
	}
	q, err := o.gate.Check(ctx, sub.UserID, total)
	if err != nil {
		return nil, err
	}
	if !q.IsUnlimited && q.Remaining != nil && len(tracks) > *q.Remaining {
		reason := fmt.Sprintf("You have %d uploads left this month but the album has %d tracks.", *q.Remaining, len(tracks))
		return nil, apptypes.NewGateError(apptypes.ErrorCodeQuotaExceeded, reason, reason).
			WithContext("remaining", *q.Remaining).
			WithContext("tracks", len(tracks))
	}

	result := &AlbumResult{TotalBytes: total}
	coverURL, err := o.transferCover(ctx, sub.UserID, *album.Cover)
	if err != nil {
		o.logger.Warn("album cover upload failed, continuing without artwork", "user_id", sub.UserID, "error", err)
		result.Warnings = append(result.Warnings, "Album art could not be uploaded. The album was created without it.")
	}
	result.CoverURL = coverURL
	p.set(5)

	privacy := album.Privacy
	if privacy == "" {
		privacy = types.PrivacyPublic
	}
	status := album.ReleaseStatus
	if status == "" {
		status = types.ReleaseDraft
	}
	tags := types.ParseTags(album.Tags)

	recordCtx, cancel := withTimeout(ctx, o.cfg.Timeouts.Record)
	albumID, err := o.backend.CreateAlbum(recordCtx, types.AlbumRecord{
		UserID:        sub.UserID,
		Title:         strings.TrimSpace(album.Title),
		Description:   strings.TrimSpace(album.Description),
		Genre:         strings.TrimSpace(album.Genre),
		Tags:          tags,
		Privacy:       privacy,
		Explicit:      album.Explicit,
		CoverURL:      coverURL,
		ReleaseStatus: status,
		ReleaseAt:     album.ReleaseAt,
		TrackCount:    len(tracks),
	})
	cancel()
	if err != nil {
		return nil, apptypes.NewTransferError(apptypes.ErrorCodeRecordFailed, "failed to create album", err)
	}
	result.AlbumID = albumID
	p.set(10)

	share := 90.0 / float64(len(tracks))
	for i, track := range tracks {
		stored, err := o.transferAudio(ctx, sub.UserID, track.Audio)
		if err != nil {
			return result, trackFailure(albumID, track, err)
		}
		p.set(10 + int(share*(float64(i)+0.5)))

		trackID, err := o.writeAlbumTrack(ctx, sub, albumID, track, stored, coverURL, privacy, tags)
		if err != nil {
			// A track row without its album link still counts as written.
			if trackID != "" {
				result.TrackIDs = append(result.TrackIDs, trackID)
			}
			return result, trackFailure(albumID, track, err)
		}
		result.TrackIDs = append(result.TrackIDs, trackID)
		p.set(10 + int(share*float64(i+1)))
	}

	p.set(100)
	return result, nil
}

func (o *Orchestrator) writeAlbumTrack(ctx context.Context, sub AlbumSubmission, albumID string, track types.TrackCandidate, stored types.StoredObject, coverURL string, privacy types.PrivacyLevel, tags []string) (string, error) {
	ctx, cancel := withTimeout(ctx, o.cfg.Timeouts.Record)
	defer cancel()

	trackID, err := o.backend.CreateTrack(ctx, types.TrackRecord{
		UserID:           sub.UserID,
		Kind:             types.ContentKindMusic,
		Title:            strings.TrimSpace(track.Title),
		Tags:             tags,
		Genre:            strings.TrimSpace(sub.Album.Genre),
		Privacy:          privacy,
		Explicit:         sub.Album.Explicit,
		Lyrics:           track.Lyrics,
		AudioPath:        stored.Path,
		AudioURL:         stored.URL,
		AudioSize:        stored.Size,
		ContentType:      validation.ContentType(track.Audio),
		CoverURL:         coverURL,
		IsCover:          sub.Attestation.CoverSong,
		ProvenanceStatus: provenanceNotChecked,
		Attestation: types.CopyrightAttestation{
			OriginalWork: sub.Attestation.OriginalWork,
			CoverSong:    sub.Attestation.CoverSong,
			AttestedAt:   o.now().UTC(),
			Device:       sub.Attestation.Device,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to save track: %w", err)
	}

	if err := o.backend.LinkTrackToAlbum(ctx, albumID, trackID, track.TrackNumber); err != nil {
		return trackID, fmt.Errorf("failed to add track to album: %w", err)
	}
	return trackID, nil
}

// validateAlbum returns the tracks in track-number order.
func (o *Orchestrator) validateAlbum(album types.AlbumCandidate) ([]types.TrackCandidate, error) {
	if strings.TrimSpace(album.Title) == "" {
		return nil, apptypes.NewMissingFieldError("album title")
	}
	if strings.TrimSpace(album.Genre) == "" {
		return nil, apptypes.NewMissingFieldError("genre")
	}
	if album.Cover == nil || album.Cover.IsZero() {
		return nil, apptypes.NewMissingFieldError("album cover")
	}
	if err := o.validator.ValidateCover(*album.Cover, validation.CoverAlbum).Err(album.Cover.Name); err != nil {
		return nil, err
	}
	if album.Privacy != "" && !album.Privacy.Valid() {
		return nil, apptypes.NewValidationError("invalid privacy level", string(album.Privacy))
	}
	if album.ReleaseStatus != "" && !album.ReleaseStatus.Valid() {
		return nil, apptypes.NewValidationError("invalid release status", string(album.ReleaseStatus))
	}
	if album.ReleaseStatus == types.ReleaseScheduled {
		if album.ReleaseAt == nil || !album.ReleaseAt.After(o.now()) {
			return nil, apptypes.NewValidationError("scheduled release time must be in the future")
		}
	}
	if len(album.Tracks) == 0 {
		return nil, apptypes.NewValidationError("add at least one track")
	}

	tracks := make([]types.TrackCandidate, len(album.Tracks))
	copy(tracks, album.Tracks)
	seen := make(map[int]bool, len(tracks))
	for i := range tracks {
		track := &tracks[i]
		if track.TrackNumber <= 0 {
			track.TrackNumber = i + 1
		}
		if seen[track.TrackNumber] {
			return nil, apptypes.NewValidationError(fmt.Sprintf("track number %d is used twice", track.TrackNumber))
		}
		seen[track.TrackNumber] = true

		if strings.TrimSpace(track.Title) == "" {
			return nil, apptypes.NewMissingFieldError(fmt.Sprintf("track %d title", track.TrackNumber))
		}
		if err := o.validator.ValidateAudio(track.Audio).Err(track.Audio.Name); err != nil {
			if appErr, ok := apptypes.AsAppError(err); ok {
				appErr.WithContext("track_number", track.TrackNumber)
				appErr.UserMessage = fmt.Sprintf("Track %d: %s", track.TrackNumber, appErr.DisplayMessage())
			}
			return nil, err
		}
	}

	sort.SliceStable(tracks, func(i, j int) bool { return tracks[i].TrackNumber < tracks[j].TrackNumber })
	return tracks, nil
}

func (o *Orchestrator) checkAlbumAllowed(ctx context.Context, userID string, trackCount int) error {
	ctx, cancel := withTimeout(ctx, o.cfg.Timeouts.Quota)
	defer cancel()

	eligibility, err := o.backend.CanCreateAlbum(ctx, userID, trackCount)
	if err != nil {
		return apptypes.NewInternalError("failed to check album eligibility", err).
			WithUserMessage("Could not check your plan. Please try again.")
	}
	if !eligibility.Allowed {
		reason := eligibility.Reason
		if reason == "" {
			reason = uploaderrors.ErrAlbumsNotAllowed.Error()
		}
		return apptypes.NewGateError(apptypes.ErrorCodeTierRestricted, reason, reason)
	}
	if eligibility.MaxTracks > 0 && trackCount > eligibility.MaxTracks {
		reason := fmt.Sprintf("Your plan allows up to %d tracks per album.", eligibility.MaxTracks)
		return apptypes.NewGateError(apptypes.ErrorCodeTierRestricted, reason, reason)
	}
	return nil
}

func (o *Orchestrator) transferAudio(ctx context.Context, userID string, audio types.FileRef) (types.StoredObject, error) {
	file, err := os.Open(audio.URI)
	if err != nil {
		return types.StoredObject{}, fmt.Errorf("failed to open audio: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return types.StoredObject{}, fmt.Errorf("failed to stat audio: %w", err)
	}

	ctx, cancel := withTimeout(ctx, o.cfg.Timeouts.Transfer)
	defer cancel()

	key := utils.ScopedObjectKey(o.cfg.AudioPrefix, userID, nameOf(audio))
	return o.store.Put(ctx, key, file, info.Size(), validation.ContentType(audio))
}

func (o *Orchestrator) transferCover(ctx context.Context, userID string, cover types.FileRef) (string, error) {
	data, err := os.ReadFile(cover.URI)
	if err != nil {
		return "", fmt.Errorf("failed to read cover: %w", err)
	}

	name := nameOf(cover)
	contentType := validation.ContentType(cover)
	if o.artwork != nil {
		var converted string
		data, converted = o.artwork.Normalize(data, contentType)
		if converted == "image/webp" && contentType != converted {
			name = strings.TrimSuffix(name, filepath.Ext(name)) + ".webp"
		}
		contentType = converted
	}

	ctx, cancel := withTimeout(ctx, o.cfg.Timeouts.Transfer)
	defer cancel()

	key := utils.ScopedObjectKey(o.cfg.ArtworkPrefix, userID, name)
	stored, err := o.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return "", err
	}
	return stored.URL, nil
}

func trackFailure(albumID string, track types.TrackCandidate, cause error) error {
	err := apptypes.NewTransferError(apptypes.ErrorCodeAlbumAborted,
		fmt.Sprintf("track %d (%s) failed", track.TrackNumber, track.Title), cause)
	err.WithContext("album_id", albumID).WithContext("track_number", track.TrackNumber)
	err.UserMessage = fmt.Sprintf("Track %d (%s) failed: %v. Album %s was created and earlier tracks were saved.",
		track.TrackNumber, track.Title, cause, albumID)
	return err
}

func inProgress() error {
	return apptypes.NewAppErrorWithCause(apptypes.ErrorCodeUploadInProgress,
		"upload already in progress", http.StatusConflict, uploaderrors.ErrUploadInProgress).
		WithUserMessage("An upload is already in progress.")
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
	return filepath.Base(f.URI)
}
