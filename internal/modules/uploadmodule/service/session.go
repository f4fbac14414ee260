package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/events"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/orchestrator"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/provenance"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/quota"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/validation"
	uploaderrors "github.com/mantonx/tunevault/internal/modules/uploadmodule/errors"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	apptypes "github.com/mantonx/tunevault/internal/types"
)

const eventSource = "upload"

// SessionView is the JSON snapshot of a session.
type SessionView struct {
	UserID        string                 `json:"user_id"`
	Candidate     *types.UploadCandidate `json:"candidate,omitempty"`
	Tags          *validation.TagInfo    `json:"tags,omitempty"`
	Form          types.TrackForm        `json:"form"`
	CoverSong     bool                   `json:"cover_song"`
	OriginalWork  bool                   `json:"original_work"`
	ISRCInput     string                 `json:"isrc_input,omitempty"`
	Provenance    types.ProvenanceView   `json:"provenance"`
	ISRC          types.IsrcView         `json:"isrc"`
	Quota         *types.UploadQuota     `json:"quota,omitempty"`
	Progress      int                    `json:"progress"`
	Uploading     bool                   `json:"uploading"`
	CanSubmit     bool                   `json:"can_submit"`
	SubmitBlocker string                 `json:"submit_blocker,omitempty"`
	Warnings      []string               `json:"warnings,omitempty"`
}

// Session is one user's upload screen: the picked file, the form, the
// provenance check and the quota snapshot.
type Session struct {
	userID       string
	manager      *Manager
	machine      *provenance.Machine
	verifier     *provenance.Verifier
	quota        *quota.Snapshot
	orchestrator *orchestrator.Orchestrator
	logger       hclog.Logger

	mu          sync.Mutex
	displayName string
	candidate   *types.UploadCandidate
	tags        *validation.TagInfo
	form        types.TrackForm
	coverSong   bool
	original    bool
	isrcInput   string
	progress    int
	warnings    []string
	cancelCheck context.CancelFunc
}

func newSession(userID, displayName string, m *Manager) *Session {
	cfg := m.deps.Config
	logger := m.deps.Logger.Named("session").With("user_id", userID)

	s := &Session{
		userID:      userID,
		displayName: displayName,
		manager:     m,
		machine:     provenance.NewMachine(),
		quota:       quota.NewSnapshot(),
		logger:      logger,
	}
	s.verifier = provenance.NewVerifier(s.machine, m.deps.Registry, cfg.Upload.ISRCDebounce, cfg.Upload.Timeouts.Registry, logger)
	s.orchestrator = orchestrator.New(m.deps.Store, m.deps.Backend, m.gate, m.validator, m.deps.Artwork, orchestrator.Config{
		AudioPrefix:   cfg.Storage.AudioPrefix,
		ArtworkPrefix: cfg.Storage.ArtworkPrefix,
		Timeouts:      cfg.Upload.Timeouts,
	}, logger)

	s.machine.SetObserver(s.onProvenanceChange)
	s.verifier.OnLookup(func(code string, status types.IsrcStatus) {
		m.deps.Metrics.recordISRCLookup(status.Name())
	})
	return s
}

// UserID returns the session owner.
func (s *Session) UserID() string {
	return s.userID
}

func (s *Session) setDisplayName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.displayName = name
}

// SelectAudio validates and picks the audio file, starting a fingerprint
// check for music when fingerprinting is enabled.
func (s *Session) SelectAudio(audio types.FileRef, kind types.ContentKind) error {
	if kind == "" {
		kind = types.ContentKindMusic
	}
	if !kind.Valid() {
		return apptypes.NewValidationError("invalid content kind", string(kind))
	}
	audio, err := s.manager.resolveIntake(audio)
	if err != nil {
		return err
	}
	if err := s.manager.validator.ValidateAudio(audio).Err(audio.Name); err != nil {
		return err
	}
	if s.orchestrator.InFlight() {
		return uploadInProgress()
	}

	var tagInfo *validation.TagInfo
	if info, ok := validation.Inspect(audio); ok {
		tagInfo = &info
	}

	s.mu.Lock()
	previous := s.candidate
	s.stopCheckLocked()
	s.candidate = &types.UploadCandidate{Audio: audio, Kind: kind}
	if previous != nil {
		s.candidate.Cover = previous.Cover
	}
	s.tags = tagInfo
	s.original = false
	s.isrcInput = ""
	s.warnings = nil
	if tagInfo != nil && strings.TrimSpace(s.form.Title) == "" {
		s.form.Title = tagInfo.Title
	}

	hint := s.displayName
	if tagInfo != nil && tagInfo.Artist != "" {
		hint = tagInfo.Artist
	}

	adapter := s.manager.adapter
	var (
		ctx   context.Context
		token uint64
	)
	if kind == types.ContentKindMusic && adapter != nil {
		ctx, s.cancelCheck = context.WithCancel(context.Background())
		token = s.machine.Begin()
	}
	s.mu.Unlock()

	if previous != nil && previous.Audio.URI != audio.URI {
		s.discardIntake(previous.Audio)
	}

	if ctx == nil {
		s.verifier.Cancel()
		s.machine.Reset()
		return nil
	}
	s.verifier.Cancel()
	go s.runFingerprint(ctx, token, audio, hint)
	return nil
}

func (s *Session) runFingerprint(ctx context.Context, token uint64, audio types.FileRef, hint string) {
	result := s.manager.adapter.Check(ctx, audio, hint)
	s.manager.deps.Metrics.recordFingerprint(result.Outcome())

	if err := s.machine.Resolve(token, result); err != nil {
		s.logger.Debug("dropping fingerprint result", "outcome", result.Outcome(), "error", err)
		return
	}

	match, ok := result.(types.Match)
	if !ok {
		return
	}
	s.mu.Lock()
	uploader := s.displayName
	s.mu.Unlock()

	threshold := s.manager.deps.Config.Fingerprint.ArtistMatchThreshold
	if warning, mismatch := provenance.ArtistWarning(match, uploader, threshold); mismatch {
		s.addWarning(warning)
	}
}

// ClearAudio drops the candidate. Provenance, the ISRC and the original-work
// confirmation are reset even when a check is still running.
func (s *Session) ClearAudio() error {
	if s.orchestrator.InFlight() {
		return uploadInProgress()
	}

	s.mu.Lock()
	previous := s.candidate
	s.stopCheckLocked()
	s.candidate = nil
	s.tags = nil
	s.original = false
	s.coverSong = false
	s.isrcInput = ""
	s.warnings = nil
	s.mu.Unlock()

	s.verifier.Cancel()
	s.machine.Reset()

	if previous != nil {
		s.discardIntake(previous.Audio)
		if previous.Cover != nil {
			s.discardIntake(*previous.Cover)
		}
	}
	return nil
}

// SetCover validates and attaches cover art to the candidate.
func (s *Session) SetCover(cover types.FileRef) error {
	cover, err := s.manager.resolveIntake(cover)
	if err != nil {
		return err
	}
	if err := s.manager.validator.ValidateCover(cover, validation.CoverSingle).Err(cover.Name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candidate == nil {
		return uploaderrors.ErrNoCandidate
	}
	s.candidate.Cover = &cover
	return nil
}

// ClearCover removes the cover art.
func (s *Session) ClearCover() {
	s.mu.Lock()
	var previous *types.FileRef
	if s.candidate != nil {
		previous = s.candidate.Cover
		s.candidate.Cover = nil
	}
	s.mu.Unlock()

	if previous != nil {
		s.discardIntake(*previous)
	}
}

// UpdateForm replaces the track metadata.
func (s *Session) UpdateForm(form types.TrackForm) error {
	if form.Privacy != "" && !form.Privacy.Valid() {
		return apptypes.NewValidationError("invalid privacy level", string(form.Privacy))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form = form
	return nil
}

// SetCoverSong toggles the cover-song flag. Turning it off clears the ISRC.
func (s *Session) SetCoverSong(on bool) {
	s.mu.Lock()
	s.coverSong = on
	if !on {
		s.isrcInput = ""
	}
	s.mu.Unlock()

	if !on {
		s.verifier.Cancel()
		s.machine.ResetISRC()
	}
}

// SetOriginalWork records the original-work confirmation.
func (s *Session) SetOriginalWork(confirmed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.original = confirmed
}

// InputISRC feeds the latest ISRC field value to the verifier.
func (s *Session) InputISRC(raw string) {
	s.mu.Lock()
	s.isrcInput = raw
	s.mu.Unlock()

	s.verifier.Input(raw)
}

// RefreshQuota reloads the quota snapshot from the backend.
func (s *Session) RefreshQuota(ctx context.Context) (types.UploadQuota, error) {
	q, err := s.quota.Refresh(ctx, s.manager.gate, s.userID)
	if err != nil {
		return types.UploadQuota{}, err
	}
	s.publish(events.EventQuotaUpdated, "", map[string]interface{}{"quota": q})
	return q, nil
}

// Submit uploads the selected track. On success the form is reset and the
// quota snapshot updated; on failure the form is kept.
func (s *Session) Submit(ctx context.Context, device string) (*orchestrator.TrackResult, error) {
	s.mu.Lock()
	if s.candidate == nil {
		s.mu.Unlock()
		return nil, uploaderrors.ErrNoCandidate
	}
	attestation := types.Attestation{OriginalWork: s.original, CoverSong: s.coverSong, Device: device}
	sub := orchestrator.TrackSubmission{
		UserID:      s.userID,
		Candidate:   *s.candidate,
		Form:        s.form,
		Attestation: attestation,
	}
	s.mu.Unlock()

	state, isrc, err := s.machine.Guard(attestation)
	if err != nil {
		return nil, err
	}
	sub.Provenance = state
	sub.ISRC = isrc

	result, err := s.orchestrator.SubmitTrack(ctx, sub, s.setProgress)
	if err != nil {
		if !errors.Is(err, uploaderrors.ErrUploadInProgress) {
			s.manager.deps.Metrics.recordUpload("track", "failure", 0)
			s.publishFailure(err, nil)
		}
		return nil, err
	}

	s.manager.deps.Metrics.recordUpload("track", "success", result.Audio.Size)
	s.completeTrack(sub.Candidate, result)
	return result, nil
}

func (s *Session) completeTrack(candidate types.UploadCandidate, result *orchestrator.TrackResult) {
	s.mu.Lock()
	s.candidate = nil
	s.tags = nil
	s.form = types.TrackForm{}
	s.coverSong = false
	s.original = false
	s.isrcInput = ""
	s.warnings = nil
	s.mu.Unlock()

	s.verifier.Cancel()
	s.machine.Reset()

	s.discardIntake(candidate.Audio)
	if candidate.Cover != nil {
		s.discardIntake(*candidate.Cover)
	}

	data := map[string]interface{}{"track_id": result.TrackID, "audio_url": result.Audio.URL}
	if len(result.Warnings) > 0 {
		data["warnings"] = result.Warnings
	}
	s.publish(events.EventUploadCompleted, "Track uploaded", data)

	if q, ok := s.quota.RecordUpload(1, result.Audio.Size); ok {
		s.publish(events.EventQuotaUpdated, "", map[string]interface{}{"quota": q})
	}
}

// SubmitAlbum uploads an album. It is rejected while a single track is
// selected.
func (s *Session) SubmitAlbum(ctx context.Context, album types.AlbumCandidate, attestation types.Attestation) (*orchestrator.AlbumResult, error) {
	s.mu.Lock()
	hasTrack := s.candidate != nil
	s.mu.Unlock()
	if hasTrack {
		return nil, apptypes.NewValidationError(uploaderrors.ErrAlbumAndTrack.Error())
	}

	album, err := s.resolveAlbumFiles(album)
	if err != nil {
		return nil, err
	}

	result, err := s.orchestrator.SubmitAlbum(ctx, orchestrator.AlbumSubmission{
		UserID:      s.userID,
		Album:       album,
		Attestation: attestation,
	}, s.setProgress)
	if err != nil {
		if !errors.Is(err, uploaderrors.ErrUploadInProgress) {
			s.manager.deps.Metrics.recordUpload("album", "failure", 0)
			s.publishFailure(err, result)
		}
		return result, err
	}

	s.manager.deps.Metrics.recordUpload("album", "success", result.TotalBytes)
	for _, track := range album.Tracks {
		s.discardIntake(track.Audio)
	}
	if album.Cover != nil {
		s.discardIntake(*album.Cover)
	}
	s.publish(events.EventUploadCompleted, "Album uploaded", map[string]interface{}{
		"album_id":  result.AlbumID,
		"track_ids": result.TrackIDs,
	})
	if q, ok := s.quota.RecordUpload(len(result.TrackIDs), result.TotalBytes); ok {
		s.publish(events.EventQuotaUpdated, "", map[string]interface{}{"quota": q})
	}
	return result, nil
}

// resolveAlbumFiles confines the album cover and every track file to the
// intake directory. It copies the track list so the caller's is untouched.
func (s *Session) resolveAlbumFiles(album types.AlbumCandidate) (types.AlbumCandidate, error) {
	if album.Cover != nil && !album.Cover.IsZero() {
		cover, err := s.manager.resolveIntake(*album.Cover)
		if err != nil {
			return album, err
		}
		album.Cover = &cover
	}

	tracks := make([]types.TrackCandidate, len(album.Tracks))
	for i, track := range album.Tracks {
		audio, err := s.manager.resolveIntake(track.Audio)
		if err != nil {
			if appErr, ok := apptypes.AsAppError(err); ok {
				appErr.WithContext("track_number", track.TrackNumber)
			}
			return album, err
		}
		track.Audio = audio
		tracks[i] = track
	}
	album.Tracks = tracks
	return album, nil
}

// View returns a snapshot of the session.
func (s *Session) View() SessionView {
	state := s.machine.State()
	isrc := s.machine.ISRC()

	s.mu.Lock()
	view := SessionView{
		UserID:       s.userID,
		Tags:         s.tags,
		Form:         s.form,
		CoverSong:    s.coverSong,
		OriginalWork: s.original,
		ISRCInput:    s.isrcInput,
		Provenance:   types.ViewProvenance(state),
		ISRC:         isrc.View(),
		Progress:     s.progress,
		Warnings:     append([]string(nil), s.warnings...),
	}
	if s.candidate != nil {
		candidate := *s.candidate
		view.Candidate = &candidate
	}
	attestation := types.Attestation{OriginalWork: s.original, CoverSong: s.coverSong}
	s.mu.Unlock()

	view.Uploading = s.orchestrator.InFlight()
	if q, ok := s.quota.Current(); ok {
		view.Quota = &q
	}

	if view.Candidate != nil {
		if err := s.machine.CanSubmit(attestation); err != nil {
			if appErr, ok := apptypes.AsAppError(err); ok {
				view.SubmitBlocker = appErr.DisplayMessage()
			} else {
				view.SubmitBlocker = err.Error()
			}
		} else {
			view.CanSubmit = !view.Uploading
		}
	}
	return view
}

// Close stops background work owned by the session.
func (s *Session) Close() {
	s.mu.Lock()
	s.stopCheckLocked()
	s.mu.Unlock()
	s.verifier.Cancel()
}

func (s *Session) stopCheckLocked() {
	if s.cancelCheck != nil {
		s.cancelCheck()
		s.cancelCheck = nil
	}
}

func (s *Session) setProgress(percent int) {
	s.mu.Lock()
	s.progress = percent
	s.mu.Unlock()
	s.publish(events.EventUploadProgress, "", map[string]interface{}{"progress": percent})
}

func (s *Session) addWarning(warning string) {
	s.mu.Lock()
	s.warnings = append(s.warnings, warning)
	s.mu.Unlock()
	s.publish(events.EventSessionWarning, warning, nil)
}

func (s *Session) onProvenanceChange(state types.ProvenanceState, isrc types.IsrcVerification) {
	s.publish(events.EventProvenanceChanged, "", map[string]interface{}{"provenance": types.ViewProvenance(state)})
	s.publish(events.EventISRCChanged, "", map[string]interface{}{"isrc": isrc.View()})
}

func (s *Session) publishFailure(err error, album *orchestrator.AlbumResult) {
	message := err.Error()
	data := map[string]interface{}{}
	if appErr, ok := apptypes.AsAppError(err); ok {
		message = appErr.DisplayMessage()
		data["code"] = string(appErr.Code)
	}
	if album != nil && album.AlbumID != "" {
		data["album_id"] = album.AlbumID
		data["track_ids"] = album.TrackIDs
	}
	s.publish(events.EventUploadFailed, message, data)
}

func (s *Session) publish(eventType events.EventType, message string, data map[string]interface{}) {
	bus := s.manager.deps.Bus
	if bus == nil {
		return
	}
	event := events.NewEvent(eventType, eventSource, s.userID, data)
	event.Message = message
	if err := bus.PublishAsync(event); err != nil {
		s.logger.Debug("event not published", "type", eventType, "error", err)
	}
}

// discardIntake removes a picked file once it is no longer needed. Only
// files inside the intake directory are touched.
func (s *Session) discardIntake(f types.FileRef) {
	path, ok := s.manager.intakePath(f.URI)
	if !ok {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove intake file", "path", path, "error", err)
	}
}

func uploadInProgress() error {
	return apptypes.NewAppErrorWithCause(apptypes.ErrorCodeUploadInProgress,
		"upload already in progress", 409, uploaderrors.ErrUploadInProgress).
		WithUserMessage("An upload is already in progress.")
}
