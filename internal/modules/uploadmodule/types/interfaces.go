package types

import (
	"context"
	"io"
)

// StoredObject is the result of writing to object storage.
type StoredObject struct {
	Path string `json:"path"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// ObjectStore holds staged and final assets.
type ObjectStore interface {
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (StoredObject, error)
	Delete(ctx context.Context, path string) error
}

// RecognitionRequest is sent to the recognition API.
type RecognitionRequest struct {
	AudioFileURL   string `json:"audioFileUrl"`
	ArtistNameHint string `json:"artistNameHint,omitempty"`
}

// RecognitionResponse is the raw recognition envelope.
type RecognitionResponse struct {
	Success          bool    `json:"success"`
	MatchFound       bool    `json:"matchFound"`
	DetectedTitle    string  `json:"detectedTitle,omitempty"`
	DetectedArtist   string  `json:"detectedArtist,omitempty"`
	DetectedAlbum    string  `json:"detectedAlbum,omitempty"`
	DetectedLabel    string  `json:"detectedLabel,omitempty"`
	DetectedISRC     string  `json:"detectedIsrc,omitempty"`
	ArtistConfidence float64 `json:"artistConfidence,omitempty"`
	ArtistMatch      *bool   `json:"artistMatch,omitempty"`
	Error            string  `json:"error,omitempty"`
	ErrorCode        string  `json:"errorCode,omitempty"`
}

// Recognizer identifies a recording from a public audio URL.
type Recognizer interface {
	Recognize(ctx context.Context, req RecognitionRequest) (*RecognitionResponse, error)
}

// RegistryResult is the rights registry's answer for one ISRC.
type RegistryResult struct {
	Verified  bool           `json:"verified"`
	Recording *RecordingInfo `json:"recording,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// RightsRegistry confirms that an ISRC belongs to a real recording.
type RightsRegistry interface {
	LookupISRC(ctx context.Context, code string) (*RegistryResult, error)
}

// Backend is the metadata store the pipeline writes to.
type Backend interface {
	CreateTrack(ctx context.Context, record TrackRecord) (string, error)
	CreateAlbum(ctx context.Context, record AlbumRecord) (string, error)
	LinkTrackToAlbum(ctx context.Context, albumID, trackID string, trackNumber int) error
	GetQuota(ctx context.Context, userID string) (*UploadQuota, error)
	GetUsageLimits(ctx context.Context, userID string) (*UsageLimits, error)
	CanCreateAlbum(ctx context.Context, userID string, trackCount int) (*AlbumEligibility, error)
}
