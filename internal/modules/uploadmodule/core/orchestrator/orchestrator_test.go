package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/quota"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/core/validation"
	uploaderrors "github.com/mantonx/tunevault/internal/modules/uploadmodule/errors"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	apptypes "github.com/mantonx/tunevault/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	objects  map[string]string // path -> content type
	failWith map[string]error  // path prefix -> error
	block    chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]string), failWith: make(map[string]error)}
}

func (s *fakeStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (types.StoredObject, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for prefix, err := range s.failWith {
		if strings.HasPrefix(path, prefix) {
			return types.StoredObject{}, err
		}
	}
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return types.StoredObject{}, err
	}
	s.objects[path] = contentType
	return types.StoredObject{Path: path, URL: "https://cdn.test/" + path, Size: n}, nil
}

func (s *fakeStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

func (s *fakeStore) paths(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

type link struct {
	albumID, trackID string
	number           int
}

type fakeBackend struct {
	mu           sync.Mutex
	tracks       map[string]types.TrackRecord
	albums       map[string]types.AlbumRecord
	links        []link
	quota        types.UploadQuota
	eligibility  types.AlbumEligibility
	failTitle    string
	failRecord   error
	failLink     int
	quotaCalls   int
	nextID       int
	trackAttempt []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tracks:      make(map[string]types.TrackRecord),
		albums:      make(map[string]types.AlbumRecord),
		quota:       types.UploadQuota{Tier: config.TierPro, IsUnlimited: true, CanUpload: true},
		eligibility: types.AlbumEligibility{Allowed: true},
	}
}

func (b *fakeBackend) CreateTrack(ctx context.Context, record types.TrackRecord) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trackAttempt = append(b.trackAttempt, record.Title)
	if b.failRecord != nil && (b.failTitle == "" || b.failTitle == record.Title) {
		return "", b.failRecord
	}
	b.nextID++
	id := fmt.Sprintf("track-%d", b.nextID)
	b.tracks[id] = record
	return id, nil
}

func (b *fakeBackend) CreateAlbum(ctx context.Context, record types.AlbumRecord) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := fmt.Sprintf("album-%d", b.nextID)
	b.albums[id] = record
	return id, nil
}

func (b *fakeBackend) LinkTrackToAlbum(ctx context.Context, albumID, trackID string, trackNumber int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failLink == trackNumber {
		return errors.New("foreign key violation")
	}
	b.links = append(b.links, link{albumID, trackID, trackNumber})
	return nil
}

func (b *fakeBackend) GetQuota(ctx context.Context, userID string) (*types.UploadQuota, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotaCalls++
	q := b.quota.Clone()
	return &q, nil
}

func (b *fakeBackend) GetUsageLimits(ctx context.Context, userID string) (*types.UsageLimits, error) {
	return &types.UsageLimits{IsUnlimited: true}, nil
}

func (b *fakeBackend) CanCreateAlbum(ctx context.Context, userID string, trackCount int) (*types.AlbumEligibility, error) {
	e := b.eligibility
	return &e, nil
}

type webpNormalizer struct{}

func (webpNormalizer) Normalize(data []byte, mimeType string) ([]byte, string) {
	return []byte("RIFF....WEBP"), "image/webp"
}

func testLimits() config.LimitsConfig {
	limits := config.DefaultConfig().Upload.Limits
	limits.MinAudioBytes = 1
	limits.MaxAudioBytes = 1024
	limits.MaxCoverBytes = 512
	limits.MaxAlbumCoverBytes = 256
	return limits
}

func newOrchestrator(store *fakeStore, backend *fakeBackend, artwork ArtworkNormalizer) *Orchestrator {
	upload := config.DefaultConfig().Upload
	gate := quota.NewGate(backend, upload, hclog.NewNullLogger())
	o := New(store, backend, gate, validation.NewValidator(testLimits()), artwork, Config{
		AudioPrefix:   "audio",
		ArtworkPrefix: "artwork",
		Timeouts:      upload.Timeouts,
	}, hclog.NewNullLogger())
	o.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return o
}

func writeFile(t *testing.T, name string, size int, mime string) types.FileRef {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	return types.FileRef{URI: path, Name: name, MimeType: mime, Size: int64(size)}
}

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) record(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
}

func (p *progressLog) last() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[len(p.values)-1]
}

func trackSubmission(t *testing.T) TrackSubmission {
	cover := writeFile(t, "cover.png", 100, "image/png")
	return TrackSubmission{
		UserID: "u1",
		Candidate: types.UploadCandidate{
			Audio: writeFile(t, "song.mp3", 512, "audio/mpeg"),
			Kind:  types.ContentKindMusic,
			Cover: &cover,
		},
		Form: types.TrackForm{
			Title:   "  Night Drive ",
			Tags:    "synth, retro,,Synth",
			Genre:   "electronic",
			Privacy: types.PrivacyUnlisted,
		},
		Attestation: types.Attestation{OriginalWork: true, Device: "android 15"},
		Provenance:  types.ProvenanceUnmatched{},
	}
}

func TestSubmitTrack(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	o := newOrchestrator(store, backend, nil)
	progress := &progressLog{}

	result, err := o.SubmitTrack(context.Background(), trackSubmission(t), progress.record)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 50, 60, 100}, progress.values)
	assert.NotEmpty(t, result.CoverURL)
	assert.Empty(t, result.Warnings)
	assert.Len(t, store.paths("audio/u1/"), 1)
	assert.Len(t, store.paths("artwork/u1/"), 1)

	record := backend.tracks[result.TrackID]
	assert.Equal(t, "Night Drive", record.Title)
	assert.Equal(t, []string{"synth", "retro"}, record.Tags)
	assert.Equal(t, types.PrivacyUnlisted, record.Privacy)
	assert.Equal(t, "unmatched", record.ProvenanceStatus)
	assert.Equal(t, "no_match", record.Fingerprint["outcome"])
	assert.False(t, record.ManualReview)
	assert.Equal(t, "audio/mpeg", record.ContentType)
	assert.True(t, record.Attestation.OriginalWork)
	assert.Equal(t, "android 15", record.Attestation.Device)
	assert.Equal(t, 2026, record.Attestation.AttestedAt.Year())
	assert.False(t, o.InFlight())
}

func TestSubmitTrack_RecordCarriesISRCAndReview(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	o := newOrchestrator(store, backend, nil)

	sub := trackSubmission(t)
	sub.Candidate.Cover = nil
	sub.Provenance = types.ProvenanceFailed{Error: types.FingerprintError{Code: types.FingerprintTimeout, Reason: "slow"}}
	sub.Attestation.CoverSong = true
	sub.ISRC = types.IsrcVerification{Code: "USRC17607839", Status: types.IsrcVerified{
		Recording: types.RecordingInfo{ISRC: "USRC17607839"}, Anchor: types.AnchorRegistry,
	}}

	result, err := o.SubmitTrack(context.Background(), sub, nil)
	require.NoError(t, err)

	record := backend.tracks[result.TrackID]
	assert.True(t, record.ManualReview)
	assert.True(t, record.IsCover)
	assert.Equal(t, "USRC17607839", record.ISRC)
	assert.True(t, record.ISRCVerified)
	assert.Equal(t, "timeout", record.Fingerprint["code"])
}

func TestSubmitTrack_InvalidFileNeverReachesNetwork(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	o := newOrchestrator(store, backend, nil)
	progress := &progressLog{}

	sub := trackSubmission(t)
	sub.Candidate.Audio = writeFile(t, "huge.mp3", 2048, "audio/mpeg")

	_, err := o.SubmitTrack(context.Background(), sub, progress.record)
	require.Error(t, err)
	assert.True(t, apptypes.IsCategory(err, apptypes.CategoryValidation))
	assert.Empty(t, store.paths(""))
	assert.Zero(t, backend.quotaCalls)
	assert.Equal(t, 0, progress.last())
}

func TestSubmitTrack_MissingTitle(t *testing.T) {
	o := newOrchestrator(newFakeStore(), newFakeBackend(), nil)
	sub := trackSubmission(t)
	sub.Form.Title = "   "

	_, err := o.SubmitTrack(context.Background(), sub, nil)
	appErr, ok := apptypes.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apptypes.ErrorCodeMissingField, appErr.Code)
}

func TestSubmitTrack_NoCandidate(t *testing.T) {
	o := newOrchestrator(newFakeStore(), newFakeBackend(), nil)

	_, err := o.SubmitTrack(context.Background(), TrackSubmission{UserID: "u1"}, nil)
	assert.ErrorIs(t, err, uploaderrors.ErrNoCandidate)
}

func TestSubmitTrack_QuotaExhausted(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	remaining := 0
	backend.quota = types.UploadQuota{Tier: config.TierFree, Remaining: &remaining}
	o := newOrchestrator(store, backend, nil)

	_, err := o.SubmitTrack(context.Background(), trackSubmission(t), nil)
	appErr, ok := apptypes.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apptypes.ErrorCodeQuotaExceeded, appErr.Code)
	assert.Empty(t, store.paths(""))
}

func TestSubmitTrack_CoverFailureIsNotFatal(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	store.failWith["artwork/"] = errors.New("bucket unavailable")
	o := newOrchestrator(store, backend, nil)
	progress := &progressLog{}

	result, err := o.SubmitTrack(context.Background(), trackSubmission(t), progress.record)
	require.NoError(t, err)
	assert.Empty(t, result.CoverURL)
	assert.Len(t, result.Warnings, 1)
	assert.Equal(t, []int{0, 50, 60, 100}, progress.values)
	assert.Empty(t, backend.tracks[result.TrackID].CoverURL)
}

func TestSubmitTrack_RecordFailureResetsProgress(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	backend.failRecord = errors.New("duplicate key")
	o := newOrchestrator(store, backend, nil)
	progress := &progressLog{}

	_, err := o.SubmitTrack(context.Background(), trackSubmission(t), progress.record)
	appErr, ok := apptypes.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apptypes.ErrorCodeRecordFailed, appErr.Code)
	assert.Equal(t, "duplicate key", appErr.DisplayMessage())
	assert.Equal(t, []int{0, 50, 60, 0}, progress.values)
}

func TestSubmitTrack_AudioTransferFailure(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	store.failWith["audio/"] = errors.New("network unreachable")
	o := newOrchestrator(store, backend, nil)

	_, err := o.SubmitTrack(context.Background(), trackSubmission(t), nil)
	appErr, ok := apptypes.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apptypes.ErrorCodeTransferFailed, appErr.Code)
	assert.Empty(t, backend.trackAttempt)
}

func TestSubmitTrack_RejectsConcurrentSubmit(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	store.block = make(chan struct{})
	o := newOrchestrator(store, backend, nil)

	first, second := trackSubmission(t), trackSubmission(t)
	done := make(chan error, 1)
	go func() {
		_, err := o.SubmitTrack(context.Background(), first, nil)
		done <- err
	}()
	require.Eventually(t, o.InFlight, time.Second, time.Millisecond)

	_, err := o.SubmitTrack(context.Background(), second, nil)
	assert.ErrorIs(t, err, uploaderrors.ErrUploadInProgress)
	appErr, _ := apptypes.AsAppError(err)
	assert.Equal(t, apptypes.ErrorCodeUploadInProgress, appErr.Code)

	close(store.block)
	require.NoError(t, <-done)
	assert.Len(t, backend.tracks, 1)
}

func albumSubmission(t *testing.T, titles ...string) AlbumSubmission {
	cover := writeFile(t, "front.jpg", 100, "image/jpeg")
	var tracks []types.TrackCandidate
	for i, title := range titles {
		tracks = append(tracks, types.TrackCandidate{
			TrackNumber: i + 1,
			Title:       title,
			Audio:       writeFile(t, fmt.Sprintf("%02d.mp3", i+1), 300, "audio/mpeg"),
		})
	}
	return AlbumSubmission{
		UserID: "u1",
		Album: types.AlbumCandidate{
			Title:  "Tapes",
			Genre:  "ambient",
			Tags:   "lofi",
			Cover:  &cover,
			Tracks: tracks,
		},
		Attestation: types.Attestation{OriginalWork: true},
	}
}

func TestSubmitAlbum(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	o := newOrchestrator(store, backend, webpNormalizer{})
	progress := &progressLog{}

	sub := albumSubmission(t, "One", "Two", "Three")
	// Out of order on purpose.
	sub.Album.Tracks[0], sub.Album.Tracks[2] = sub.Album.Tracks[2], sub.Album.Tracks[0]

	result, err := o.SubmitAlbum(context.Background(), sub, progress.record)
	require.NoError(t, err)
	require.Len(t, result.TrackIDs, 3)
	assert.Equal(t, int64(900), result.TotalBytes)

	assert.Equal(t, []int{0, 5, 10, 25, 40, 55, 70, 85, 100}, progress.values)

	album := backend.albums[result.AlbumID]
	assert.Equal(t, 3, album.TrackCount)
	assert.Equal(t, types.ReleaseDraft, album.ReleaseStatus)
	assert.True(t, strings.HasSuffix(album.CoverURL, ".webp"))

	require.Len(t, backend.links, 3)
	for i, l := range backend.links {
		assert.Equal(t, i+1, l.number)
		assert.Equal(t, result.AlbumID, l.albumID)
	}
	assert.Equal(t, []string{"One", "Two", "Three"}, backend.trackAttempt)
	assert.Equal(t, provenanceNotChecked, backend.tracks[result.TrackIDs[0]].ProvenanceStatus)
}

func TestSubmitAlbum_TrackFailureAborts(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	backend.failTitle = "Two"
	backend.failRecord = errors.New("constraint violation")
	o := newOrchestrator(store, backend, nil)
	progress := &progressLog{}

	result, err := o.SubmitAlbum(context.Background(), albumSubmission(t, "One", "Two", "Three"), progress.record)
	require.Error(t, err)

	appErr, ok := apptypes.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apptypes.ErrorCodeAlbumAborted, appErr.Code)
	assert.Equal(t, 2, appErr.Context["track_number"])
	assert.Equal(t, result.AlbumID, appErr.Context["album_id"])
	assert.Contains(t, appErr.DisplayMessage(), "Track 2 (Two)")
	assert.Contains(t, appErr.DisplayMessage(), result.AlbumID)

	// Track 1 stays, track 3 is never attempted.
	require.Len(t, result.TrackIDs, 1)
	assert.Equal(t, "One", backend.tracks[result.TrackIDs[0]].Title)
	assert.Equal(t, []string{"One", "Two"}, backend.trackAttempt)
	assert.Len(t, store.paths("audio/"), 2)
	assert.Len(t, backend.albums, 1)
	assert.Equal(t, 0, progress.last())
}

func TestSubmitAlbum_NotAllowed(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	backend.eligibility = types.AlbumEligibility{Allowed: false, Reason: "Albums are available on Premium and Pro plans."}
	o := newOrchestrator(store, backend, nil)

	_, err := o.SubmitAlbum(context.Background(), albumSubmission(t, "One"), nil)
	appErr, ok := apptypes.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apptypes.ErrorCodeTierRestricted, appErr.Code)
	assert.Contains(t, appErr.DisplayMessage(), "Premium")
	assert.Empty(t, store.paths(""))
	assert.Empty(t, backend.albums)
}

func TestSubmitAlbum_TooManyTracks(t *testing.T) {
	backend := newFakeBackend()
	backend.eligibility = types.AlbumEligibility{Allowed: true, MaxTracks: 2}
	o := newOrchestrator(newFakeStore(), backend, nil)

	_, err := o.SubmitAlbum(context.Background(), albumSubmission(t, "One", "Two", "Three"), nil)
	assert.True(t, apptypes.IsCategory(err, apptypes.CategoryGate))
	assert.Empty(t, backend.albums)
}

func TestSubmitAlbum_Validation(t *testing.T) {
	past := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(*AlbumSubmission)
		ok     bool
	}{
		{"no title", func(s *AlbumSubmission) { s.Album.Title = "" }, false},
		{"no genre", func(s *AlbumSubmission) { s.Album.Genre = " " }, false},
		{"no cover", func(s *AlbumSubmission) { s.Album.Cover = nil }, false},
		{"no tracks", func(s *AlbumSubmission) { s.Album.Tracks = nil }, false},
		{"untitled track", func(s *AlbumSubmission) { s.Album.Tracks[1].Title = "" }, false},
		{"duplicate number", func(s *AlbumSubmission) { s.Album.Tracks[1].TrackNumber = 1 }, false},
		{"scheduled in the past", func(s *AlbumSubmission) {
			s.Album.ReleaseStatus = types.ReleaseScheduled
			s.Album.ReleaseAt = &past
		}, false},
		{"scheduled without time", func(s *AlbumSubmission) { s.Album.ReleaseStatus = types.ReleaseScheduled }, false},
		{"scheduled in the future", func(s *AlbumSubmission) {
			s.Album.ReleaseStatus = types.ReleaseScheduled
			s.Album.ReleaseAt = &future
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			o := newOrchestrator(newFakeStore(), backend, nil)
			sub := albumSubmission(t, "One", "Two")
			tt.mutate(&sub)

			_, err := o.SubmitAlbum(context.Background(), sub, nil)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apptypes.IsCategory(err, apptypes.CategoryValidation), "got %v", err)
			assert.Empty(t, backend.albums)
		})
	}
}

func TestSubmitAlbum_InvalidTrackAudioNamesTrack(t *testing.T) {
	o := newOrchestrator(newFakeStore(), newFakeBackend(), nil)
	sub := albumSubmission(t, "One", "Two")
	sub.Album.Tracks[1].Audio = writeFile(t, "notes.txt", 300, "text/plain")

	_, err := o.SubmitAlbum(context.Background(), sub, nil)
	appErr, ok := apptypes.AsAppError(err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(appErr.DisplayMessage(), "Track 2:"))
}

func TestSubmitAlbum_LinkFailureReportsWrittenTrack(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	backend.failLink = 2
	o := newOrchestrator(store, backend, nil)

	result, err := o.SubmitAlbum(context.Background(), albumSubmission(t, "One", "Two", "Three"), nil)
	require.Error(t, err)

	appErr, ok := apptypes.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, 2, appErr.Context["track_number"])

	// The second track row exists even though linking it failed.
	require.Len(t, result.TrackIDs, 2)
	assert.Len(t, backend.tracks, 2)
	assert.Equal(t, "Two", backend.tracks[result.TrackIDs[1]].Title)
	assert.Equal(t, []string{"One", "Two"}, backend.trackAttempt)
}

func TestSubmitAlbum_MoreTracksThanUploadsLeft(t *testing.T) {
	store, backend := newFakeStore(), newFakeBackend()
	limit, remaining := 25, 2
	backend.quota = types.UploadQuota{Tier: config.TierPremium, UploadLimit: &limit, Remaining: &remaining, CanUpload: true}
	o := newOrchestrator(store, backend, nil)

	_, err := o.SubmitAlbum(context.Background(), albumSubmission(t, "One", "Two", "Three"), nil)
	appErr, ok := apptypes.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apptypes.ErrorCodeQuotaExceeded, appErr.Code)
	assert.Contains(t, appErr.DisplayMessage(), "2 uploads left")
	assert.Empty(t, store.paths(""))
	assert.Empty(t, backend.albums)

	remaining = 3
	backend.quota.Remaining = &remaining
	result, err := o.SubmitAlbum(context.Background(), albumSubmission(t, "One", "Two", "Three"), nil)
	require.NoError(t, err)
	assert.Len(t, result.TrackIDs, 3)
}
