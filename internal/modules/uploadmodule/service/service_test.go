package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/events"
	uploaderrors "github.com/mantonx/tunevault/internal/modules/uploadmodule/errors"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	apptypes "github.com/mantonx/tunevault/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string]int64
}

func (s *memoryStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (types.StoredObject, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return types.StoredObject{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = n
	return types.StoredObject{Path: path, URL: "https://cdn.test/" + path, Size: n}, nil
}

func (s *memoryStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *memoryStore) count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p := range s.objects {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

type stubRecognizer struct {
	resp *types.RecognitionResponse
	err  error
}

func (r *stubRecognizer) Recognize(ctx context.Context, req types.RecognitionRequest) (*types.RecognitionResponse, error) {
	return r.resp, r.err
}

type stubRegistry struct {
	mu    sync.Mutex
	calls []string
}

func (r *stubRegistry) LookupISRC(ctx context.Context, code string) (*types.RegistryResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, code)
	r.mu.Unlock()
	return &types.RegistryResult{Verified: true, Recording: &types.RecordingInfo{ISRC: code, Title: "Yesterday"}}, nil
}

type stubBackend struct {
	mu      sync.Mutex
	records []types.TrackRecord
	albums  []types.AlbumRecord
}

func (b *stubBackend) CreateTrack(ctx context.Context, record types.TrackRecord) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, record)
	return "track-" + string(rune('0'+len(b.records))), nil
}

func (b *stubBackend) CreateAlbum(ctx context.Context, record types.AlbumRecord) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.albums = append(b.albums, record)
	return "album-1", nil
}

func (b *stubBackend) LinkTrackToAlbum(ctx context.Context, albumID, trackID string, trackNumber int) error {
	return nil
}

func (b *stubBackend) GetQuota(ctx context.Context, userID string) (*types.UploadQuota, error) {
	limit, remaining := 3, 2
	return &types.UploadQuota{Tier: "free", UploadsThisMonth: 1, UploadLimit: &limit, Remaining: &remaining, CanUpload: true}, nil
}

func (b *stubBackend) GetUsageLimits(ctx context.Context, userID string) (*types.UsageLimits, error) {
	return &types.UsageLimits{IsUnlimited: true}, nil
}

func (b *stubBackend) CanCreateAlbum(ctx context.Context, userID string, trackCount int) (*types.AlbumEligibility, error) {
	return &types.AlbumEligibility{Allowed: true}, nil
}

type harness struct {
	manager  *Manager
	store    *memoryStore
	backend  *stubBackend
	registry *stubRegistry
	metrics  *Metrics
	reg      *prometheus.Registry
	intake   string
}

func newHarness(t *testing.T, recognizer types.Recognizer) *harness {
	t.Helper()

	intake := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Upload.Limits.MinAudioBytes = 1
	cfg.Upload.ISRCDebounce = 5 * time.Millisecond
	cfg.Server.IntakeDir = intake
	cfg.Fingerprint.Enabled = recognizer != nil

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	h := &harness{
		store:    &memoryStore{objects: make(map[string]int64)},
		backend:  &stubBackend{},
		registry: &stubRegistry{},
		metrics:  metrics,
		reg:      reg,
		intake:   intake,
	}
	h.manager = NewManager(Dependencies{
		Config:     cfg,
		Store:      h.store,
		Backend:    h.backend,
		Recognizer: recognizer,
		Registry:   h.registry,
		Metrics:    metrics,
		Logger:     hclog.NewNullLogger(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.manager.Shutdown(ctx)
	})
	return h
}

func (h *harness) audio(t *testing.T, name string) types.FileRef {
	t.Helper()
	return h.file(t, name, "audio/mpeg", []byte("not really audio"))
}

func (h *harness) file(t *testing.T, name, mimeType string, content []byte) types.FileRef {
	t.Helper()
	path := filepath.Join(h.intake, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return types.FileRef{URI: path, Name: name, MimeType: mimeType, Size: int64(len(content))}
}

func waitForState(t *testing.T, s *Session, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.View().Provenance.Status == name
	}, 2*time.Second, 5*time.Millisecond)
}

func matchResponse(isrc string) *types.RecognitionResponse {
	return &types.RecognitionResponse{
		Success:        true,
		MatchFound:     true,
		DetectedTitle:  "Yesterday",
		DetectedArtist: "The Beatles",
		DetectedISRC:   isrc,
	}
}

func TestSession_MatchedTrackNeedsMatchingISRC(t *testing.T) {
	h := newHarness(t, &stubRecognizer{resp: matchResponse("GBAYE6500524")})
	s := h.manager.Session("user-1", "The Beatles")

	audio := h.audio(t, "yesterday.mp3")
	require.NoError(t, s.SelectAudio(audio, types.ContentKindMusic))
	waitForState(t, s, "matched")

	require.NoError(t, s.UpdateForm(types.TrackForm{Title: "Yesterday", Tags: "rock, classic"}))

	view := s.View()
	assert.False(t, view.CanSubmit)
	assert.NotEmpty(t, view.SubmitBlocker)

	_, err := s.Submit(context.Background(), "ios")
	assert.True(t, apptypes.IsCategory(err, apptypes.CategoryValidation))

	s.InputISRC("gb-aye-65-00524")
	view = s.View()
	assert.Equal(t, "verified", view.ISRC.Status)
	assert.Equal(t, types.AnchorMatch, view.ISRC.Anchor)
	assert.True(t, view.CanSubmit)
	assert.Empty(t, h.registry.calls, "a match-anchored check never calls the registry")

	result, err := s.Submit(context.Background(), "ios")
	require.NoError(t, err)
	assert.NotEmpty(t, result.TrackID)

	require.Len(t, h.backend.records, 1)
	record := h.backend.records[0]
	assert.Equal(t, "GBAYE6500524", record.ISRC)
	assert.True(t, record.ISRCVerified)
	assert.Equal(t, []string{"rock", "classic"}, record.Tags)

	view = s.View()
	assert.Nil(t, view.Candidate)
	assert.Empty(t, view.Form.Title)
	assert.Equal(t, "idle", view.Provenance.Status)
	assert.Equal(t, 100, view.Progress)

	_, statErr := os.Stat(audio.URI)
	assert.True(t, os.IsNotExist(statErr), "intake file removed after upload")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.uploads.WithLabelValues("track", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.fingerprints.WithLabelValues("match")))
}

func TestSession_UnmatchedNeedsOriginalWork(t *testing.T) {
	h := newHarness(t, &stubRecognizer{resp: &types.RecognitionResponse{Success: true}})
	s := h.manager.Session("user-1", "Me")

	require.NoError(t, s.SelectAudio(h.audio(t, "demo.mp3"), ""))
	waitForState(t, s, "unmatched")
	require.NoError(t, s.UpdateForm(types.TrackForm{Title: "Demo"}))

	_, err := s.Submit(context.Background(), "")
	require.Error(t, err)
	appErr, ok := apptypes.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apptypes.ErrorCodeProvenanceBlock, appErr.Code)

	s.SetOriginalWork(true)
	_, err = s.Submit(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, h.backend.records[0].Attestation.OriginalWork)
}

func TestSession_CoverSongUsesRegistry(t *testing.T) {
	h := newHarness(t, &stubRecognizer{resp: &types.RecognitionResponse{Success: true}})
	s := h.manager.Session("user-1", "Me")

	require.NoError(t, s.SelectAudio(h.audio(t, "cover.mp3"), types.ContentKindMusic))
	waitForState(t, s, "unmatched")
	require.NoError(t, s.UpdateForm(types.TrackForm{Title: "Yesterday (cover)"}))

	s.SetCoverSong(true)
	s.InputISRC("GBAYE6500524")
	require.Eventually(t, func() bool {
		return s.View().ISRC.Status == "verified"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, types.AnchorRegistry, s.View().ISRC.Anchor)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.isrcChecks.WithLabelValues("verified")))

	s.SetCoverSong(false)
	view := s.View()
	assert.Equal(t, "idle", view.ISRC.Status)
	assert.Empty(t, view.ISRCInput)
}

func TestSession_FailedCheckGoesToReview(t *testing.T) {
	h := newHarness(t, &stubRecognizer{err: errors.New("connection refused")})
	s := h.manager.Session("user-1", "Me")

	require.NoError(t, s.SelectAudio(h.audio(t, "song.mp3"), types.ContentKindMusic))
	waitForState(t, s, "failed")
	require.NoError(t, s.UpdateForm(types.TrackForm{Title: "Song"}))

	assert.True(t, s.View().CanSubmit)
	_, err := s.Submit(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, h.backend.records[0].ManualReview)
}

func TestSession_ClearAudioResets(t *testing.T) {
	h := newHarness(t, &stubRecognizer{resp: &types.RecognitionResponse{Success: true}})
	s := h.manager.Session("user-1", "Me")

	audio := h.audio(t, "song.mp3")
	require.NoError(t, s.SelectAudio(audio, types.ContentKindMusic))
	waitForState(t, s, "unmatched")
	s.SetOriginalWork(true)
	s.SetCoverSong(true)

	require.NoError(t, s.ClearAudio())

	view := s.View()
	assert.Nil(t, view.Candidate)
	assert.False(t, view.OriginalWork)
	assert.False(t, view.CoverSong)
	assert.Equal(t, "idle", view.Provenance.Status)

	_, statErr := os.Stat(audio.URI)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSession_PodcastSkipsFingerprint(t *testing.T) {
	h := newHarness(t, &stubRecognizer{resp: matchResponse("")})
	s := h.manager.Session("user-1", "Me")

	require.NoError(t, s.SelectAudio(h.audio(t, "episode.mp3"), types.ContentKindPodcast))
	assert.Equal(t, "idle", s.View().Provenance.Status)
	assert.Zero(t, h.store.count("staging/"))
}

func TestSession_FingerprintDisabled(t *testing.T) {
	h := newHarness(t, nil)
	s := h.manager.Session("user-1", "Me")

	require.NoError(t, s.SelectAudio(h.audio(t, "song.mp3"), types.ContentKindMusic))
	require.NoError(t, s.UpdateForm(types.TrackForm{Title: "Song"}))

	view := s.View()
	assert.Equal(t, "idle", view.Provenance.Status)
	assert.True(t, view.CanSubmit)
}

func TestSession_InvalidAudioRejected(t *testing.T) {
	h := newHarness(t, nil)
	s := h.manager.Session("user-1", "Me")

	err := s.SelectAudio(types.FileRef{URI: "/tmp/x.exe", Name: "x.exe", MimeType: "application/x-msdownload", Size: 10}, "")
	require.Error(t, err)
	assert.Nil(t, s.View().Candidate)

	err = s.SelectAudio(h.audio(t, "a.mp3"), "video")
	assert.True(t, apptypes.IsCategory(err, apptypes.CategoryValidation))
}

func TestSession_CoverRequiresCandidate(t *testing.T) {
	h := newHarness(t, nil)
	s := h.manager.Session("user-1", "Me")

	err := s.SetCover(h.file(t, "c.png", "image/png", []byte("png")))
	assert.ErrorIs(t, err, uploaderrors.ErrNoCandidate)
}

func TestSession_AlbumRejectedWithTrackSelected(t *testing.T) {
	h := newHarness(t, nil)
	s := h.manager.Session("user-1", "Me")
	require.NoError(t, s.SelectAudio(h.audio(t, "song.mp3"), ""))

	_, err := s.SubmitAlbum(context.Background(), types.AlbumCandidate{Title: "LP"}, types.Attestation{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), uploaderrors.ErrAlbumAndTrack.Error())
}

func TestSession_QuotaRefreshAndRecord(t *testing.T) {
	h := newHarness(t, nil)
	s := h.manager.Session("user-1", "Me")

	q, err := s.RefreshQuota(context.Background())
	require.NoError(t, err)
	require.NotNil(t, q.Remaining)
	assert.Equal(t, 2, *q.Remaining)

	require.NoError(t, s.SelectAudio(h.audio(t, "song.mp3"), ""))
	require.NoError(t, s.UpdateForm(types.TrackForm{Title: "Song"}))
	_, err = s.Submit(context.Background(), "")
	require.NoError(t, err)

	view := s.View()
	require.NotNil(t, view.Quota)
	assert.Equal(t, 2, view.Quota.UploadsThisMonth)
	assert.Equal(t, 1, *view.Quota.Remaining)
}

func TestSession_PublishesEvents(t *testing.T) {
	bus := events.NewEventBus(events.DefaultEventBusConfig(), hclog.NewNullLogger())
	require.NoError(t, bus.Start(context.Background()))
	defer bus.Stop(context.Background())

	h := newHarness(t, &stubRecognizer{resp: &types.RecognitionResponse{Success: true}})
	h.manager.deps.Bus = bus

	received := make(chan events.Event, 32)
	_, err := bus.Subscribe(context.Background(), events.EventFilter{
		Types:   []events.EventType{events.EventProvenanceChanged},
		Targets: []string{"user-1"},
	}, func(e events.Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	s := h.manager.Session("user-1", "Me")
	require.NoError(t, s.SelectAudio(h.audio(t, "song.mp3"), ""))

	statuses := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for !statuses["unmatched"] {
		select {
		case e := <-received:
			assert.Equal(t, "user-1", e.Target)
			view := e.Data["provenance"].(types.ProvenanceView)
			statuses[view.Status] = true
		case <-timeout:
			t.Fatalf("no unmatched event, saw %v", statuses)
		}
	}
	assert.True(t, statuses["checking"])
}

func TestManager_SessionsPerUser(t *testing.T) {
	h := newHarness(t, nil)

	a := h.manager.Session("a", "A")
	assert.Same(t, a, h.manager.Session("a", ""))
	h.manager.Session("b", "B")
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.activeSessions))

	got, err := h.manager.Get("a")
	require.NoError(t, err)
	assert.Same(t, a, got)

	h.manager.Remove("a")
	_, err = h.manager.Get("a")
	assert.ErrorIs(t, err, uploaderrors.ErrSessionNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.activeSessions))
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.recordUpload("track", "success", 10)
	m.recordFingerprint("match")
	m.setActiveSessions(3)
}

func TestSession_RejectsFilesOutsideIntake(t *testing.T) {
	h := newHarness(t, nil)
	s := h.manager.Session("user-1", "Me")

	secret := filepath.Join(t.TempDir(), "server-secret.mp3")
	require.NoError(t, os.WriteFile(secret, make([]byte, 5000), 0o644))

	refs := []types.FileRef{
		{URI: secret, Name: "song.mp3", MimeType: "audio/mpeg", Size: 16},
		{URI: filepath.Join(h.intake, "..", filepath.Base(filepath.Dir(secret)), "server-secret.mp3"), Name: "song.mp3", MimeType: "audio/mpeg", Size: 16},
		{URI: "song.mp3", Name: "song.mp3", MimeType: "audio/mpeg", Size: 16},
		{URI: filepath.Join(h.intake, "missing.mp3"), Name: "missing.mp3", MimeType: "audio/mpeg", Size: 16},
	}
	for _, ref := range refs {
		err := s.SelectAudio(ref, types.ContentKindPodcast)
		require.Error(t, err, ref.URI)
		assert.ErrorIs(t, err, uploaderrors.ErrNotIntakeFile)
		appErr, ok := apptypes.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apptypes.ErrorCodeInvalidFile, appErr.Code)
	}
	assert.Nil(t, s.View().Candidate)

	require.NoError(t, s.SelectAudio(h.audio(t, "song.mp3"), types.ContentKindPodcast))
	err := s.SetCover(types.FileRef{URI: secret, Name: "c.png", MimeType: "image/png", Size: 10})
	assert.ErrorIs(t, err, uploaderrors.ErrNotIntakeFile)
	assert.Nil(t, s.View().Candidate.Cover)

	_, err = s.Submit(context.Background(), "")
	require.Error(t, err, "form has no title")
	assert.Zero(t, h.store.count("audio/"))

	_, statErr := os.Stat(secret)
	assert.NoError(t, statErr, "files outside the intake dir are never removed")
}

func TestSession_SizeComesFromDisk(t *testing.T) {
	h := newHarness(t, nil)
	s := h.manager.Session("user-1", "Me")

	audio := h.audio(t, "song.mp3")
	audio.Size = 1 << 40
	require.NoError(t, s.SelectAudio(audio, ""))
	assert.Equal(t, int64(16), s.View().Candidate.Audio.Size)

	empty := h.file(t, "empty.mp3", "audio/mpeg", nil)
	empty.Size = 16
	err := s.SelectAudio(empty, "")
	assert.True(t, apptypes.IsCategory(err, apptypes.CategoryValidation), "got %v", err)
}

func TestSession_AlbumRejectsFilesOutsideIntake(t *testing.T) {
	h := newHarness(t, nil)
	s := h.manager.Session("user-1", "Me")

	secret := filepath.Join(t.TempDir(), "secret.mp3")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o644))
	cover := h.file(t, "front.jpg", "image/jpeg", []byte("jpeg"))

	_, err := s.SubmitAlbum(context.Background(), types.AlbumCandidate{
		Title: "LP",
		Genre: "rock",
		Cover: &cover,
		Tracks: []types.TrackCandidate{
			{TrackNumber: 1, Title: "One", Audio: h.audio(t, "one.mp3")},
			{TrackNumber: 2, Title: "Two", Audio: types.FileRef{URI: secret, Name: "two.mp3", MimeType: "audio/mpeg", Size: 16}},
		},
	}, types.Attestation{OriginalWork: true})
	assert.ErrorIs(t, err, uploaderrors.ErrNotIntakeFile)
	appErr, ok := apptypes.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 2, appErr.Context["track_number"])
	assert.Empty(t, h.backend.albums)
	assert.Zero(t, h.store.count(""))
}

func TestSession_AlbumQuotaCountsTracks(t *testing.T) {
	h := newHarness(t, nil)
	s := h.manager.Session("user-1", "Me")

	_, err := s.RefreshQuota(context.Background())
	require.NoError(t, err)

	album := func(n int) types.AlbumCandidate {
		cover := h.file(t, "front.jpg", "image/jpeg", []byte("jpeg"))
		a := types.AlbumCandidate{Title: "LP", Genre: "rock", Cover: &cover}
		for i := 1; i <= n; i++ {
			name := "track" + string(rune('0'+i)) + ".mp3"
			a.Tracks = append(a.Tracks, types.TrackCandidate{TrackNumber: i, Title: name, Audio: h.audio(t, name)})
		}
		return a
	}

	// Two uploads left: a three-track album does not fit.
	_, err = s.SubmitAlbum(context.Background(), album(3), types.Attestation{OriginalWork: true})
	appErr, ok := apptypes.AsAppError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apptypes.ErrorCodeQuotaExceeded, appErr.Code)
	assert.Empty(t, h.backend.albums)

	result, err := s.SubmitAlbum(context.Background(), album(2), types.Attestation{OriginalWork: true})
	require.NoError(t, err)
	require.Len(t, result.TrackIDs, 2)

	view := s.View()
	require.NotNil(t, view.Quota)
	assert.Equal(t, 3, view.Quota.UploadsThisMonth)
	assert.Equal(t, 0, *view.Quota.Remaining)
	assert.False(t, view.Quota.CanUpload)
}

func TestSession_NewFileClearsISRCInput(t *testing.T) {
	h := newHarness(t, &stubRecognizer{resp: &types.RecognitionResponse{Success: true}})
	s := h.manager.Session("user-1", "Me")

	require.NoError(t, s.SelectAudio(h.audio(t, "one.mp3"), types.ContentKindMusic))
	waitForState(t, s, "unmatched")
	s.SetCoverSong(true)
	s.InputISRC("GBAYE6500524")
	assert.Equal(t, "GBAYE6500524", s.View().ISRCInput)

	require.NoError(t, s.SelectAudio(h.audio(t, "two.mp3"), types.ContentKindMusic))
	view := s.View()
	assert.Empty(t, view.ISRCInput)
	assert.NotEqual(t, "verified", view.ISRC.Status)
}
