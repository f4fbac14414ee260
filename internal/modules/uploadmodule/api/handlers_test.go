package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/events"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/service"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu    sync.Mutex
	paths []string
}

func (s *memoryStore) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (types.StoredObject, error) {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return types.StoredObject{}, err
	}
	s.mu.Lock()
	s.paths = append(s.paths, path)
	s.mu.Unlock()
	return types.StoredObject{Path: path, URL: "https://cdn.test/" + path, Size: n}, nil
}

func (s *memoryStore) Delete(ctx context.Context, path string) error { return nil }

type stubBackend struct {
	canUpload bool
}

func (b *stubBackend) CreateTrack(ctx context.Context, record types.TrackRecord) (string, error) {
	return "track-1", nil
}

func (b *stubBackend) CreateAlbum(ctx context.Context, record types.AlbumRecord) (string, error) {
	return "album-1", nil
}

func (b *stubBackend) LinkTrackToAlbum(ctx context.Context, albumID, trackID string, trackNumber int) error {
	return nil
}

func (b *stubBackend) GetQuota(ctx context.Context, userID string) (*types.UploadQuota, error) {
	limit, remaining := 3, 0
	if b.canUpload {
		remaining = 3
	}
	return &types.UploadQuota{Tier: "free", UploadLimit: &limit, Remaining: &remaining, CanUpload: b.canUpload}, nil
}

func (b *stubBackend) GetUsageLimits(ctx context.Context, userID string) (*types.UsageLimits, error) {
	return &types.UsageLimits{IsUnlimited: true}, nil
}

func (b *stubBackend) CanCreateAlbum(ctx context.Context, userID string, trackCount int) (*types.AlbumEligibility, error) {
	return &types.AlbumEligibility{Allowed: false, Reason: "Albums are available on Premium and Pro plans."}, nil
}

type testServer struct {
	router  *gin.Engine
	backend *stubBackend
	bus     events.EventBus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.Upload.Limits.MinAudioBytes = 1
	cfg.Fingerprint.Enabled = false
	cfg.Server.IntakeDir = t.TempDir()

	bus := events.NewEventBus(events.DefaultEventBusConfig(), hclog.NewNullLogger())
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })

	backend := &stubBackend{canUpload: true}
	manager := service.NewManager(service.Dependencies{
		Config:  cfg,
		Store:   &memoryStore{},
		Backend: backend,
		Bus:     bus,
		Logger:  hclog.NewNullLogger(),
	})
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	router := gin.New()
	RegisterRoutes(router, NewHandler(manager, bus, cfg.Server))
	return &testServer{router: router, backend: backend, bus: bus}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userIDHeader, "user-1")
	req.Header.Set(userNameHeader, "Me")

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w, out
}

func (ts *testServer) uploadFile(t *testing.T, name, contentType string, content []byte) types.FileRef {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(userIDHeader, "user-1")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var out struct {
		File types.FileRef `json:"file"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.File
}

func errorCode(body map[string]interface{}) string {
	errBody, _ := body["error"].(map[string]interface{})
	code, _ := errBody["code"].(string)
	return code
}

func TestRoutes_RequireUser(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/upload/session", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadFlow_SingleTrack(t *testing.T) {
	ts := newTestServer(t)

	ref := ts.uploadFile(t, "My Song.mp3", "audio/mpeg", []byte("fake mp3 bytes"))
	assert.Equal(t, "My Song.mp3", ref.Name)
	assert.Equal(t, int64(14), ref.Size)
	assert.Equal(t, "audio/mpeg", ref.MimeType)

	w, body := ts.do(t, http.MethodPut, "/api/upload/session/audio", gin.H{"file": ref, "kind": "music"})
	require.Equal(t, http.StatusOK, w.Code)
	session := body["session"].(map[string]interface{})
	assert.NotNil(t, session["candidate"])

	w, _ = ts.do(t, http.MethodPut, "/api/upload/session/form", types.TrackForm{Title: "My Song", Privacy: types.PrivacyUnlisted})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = ts.do(t, http.MethodPost, "/api/upload/session/submit", gin.H{"device": "test"})
	require.Equal(t, http.StatusCreated, w.Code, body)
	track := body["track"].(map[string]interface{})
	assert.Equal(t, "track-1", track["track_id"])
}

func TestSubmit_WithoutFile(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(t, http.MethodPost, "/api/upload/session/submit", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(body))
}

func TestSubmit_QuotaExceeded(t *testing.T) {
	ts := newTestServer(t)
	ts.backend.canUpload = false

	ref := ts.uploadFile(t, "song.mp3", "audio/mpeg", []byte("bytes"))
	w, _ := ts.do(t, http.MethodPut, "/api/upload/session/audio", gin.H{"file": ref})
	require.Equal(t, http.StatusOK, w.Code)
	ts.do(t, http.MethodPut, "/api/upload/session/form", types.TrackForm{Title: "Song"})

	w, body := ts.do(t, http.MethodPost, "/api/upload/session/submit", nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "QUOTA_EXCEEDED", errorCode(body))
	assert.Contains(t, body["error"].(map[string]interface{})["user_message"], "Upgrade to Premium")
}

func TestSelectAudio_Invalid(t *testing.T) {
	ts := newTestServer(t)

	ref := ts.uploadFile(t, "notes.txt", "text/plain", []byte("hello"))
	w, body := ts.do(t, http.MethodPut, "/api/upload/session/audio", gin.H{"file": ref})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_FILE", errorCode(body))
}

func TestSubmitAlbum_TierRestricted(t *testing.T) {
	ts := newTestServer(t)

	cover := ts.uploadFile(t, "cover.png", "image/png", []byte("png"))
	audio := ts.uploadFile(t, "one.mp3", "audio/mpeg", []byte("mp3"))
	album := types.AlbumCandidate{
		Title:  "LP",
		Genre:  "rock",
		Cover:  &cover,
		Tracks: []types.TrackCandidate{{Title: "One", Audio: audio}},
	}

	w, body := ts.do(t, http.MethodPost, "/api/upload/albums", gin.H{"album": album})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "TIER_RESTRICTED", errorCode(body))
}

func TestSessionToggles(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.do(t, http.MethodPut, "/api/upload/session/cover-song", gin.H{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["session"].(map[string]interface{})["cover_song"])

	w, body = ts.do(t, http.MethodPut, "/api/upload/session/original", gin.H{"confirmed": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["session"].(map[string]interface{})["original_work"])

	w, body = ts.do(t, http.MethodPut, "/api/upload/session/isrc", gin.H{"value": "bad"})
	require.Equal(t, http.StatusOK, w.Code)
	isrc := body["session"].(map[string]interface{})["isrc"].(map[string]interface{})
	assert.Equal(t, "rejected", isrc["status"])

	w, body = ts.do(t, http.MethodGet, "/api/upload/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, body["session"].(map[string]interface{})["quota"])
}

func TestWebSocket_StreamsSessionEvents(t *testing.T) {
	ts := newTestServer(t)
	server := httptest.NewServer(ts.router)
	defer server.Close()

	header := http.Header{}
	header.Set(userIDHeader, "user-1")
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/upload/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first WebSocketMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "session", first.Type)

	require.NoError(t, ts.bus.PublishAsync(events.NewEvent(events.EventUploadProgress, "upload", "user-2", nil)))
	require.NoError(t, ts.bus.PublishAsync(events.NewEvent(events.EventUploadProgress, "upload", "user-1",
		map[string]interface{}{"progress": 50})))

	var next WebSocketMessage
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, string(events.EventUploadProgress), next.Type)
	assert.Equal(t, 50.0, next.Data.(map[string]interface{})["progress"])
}
