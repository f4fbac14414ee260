// Package types contains type definitions for the upload module.
package types

import (
	"path/filepath"
	"strings"
	"time"
)

// ContentKind is the target kind of an upload.
type ContentKind string

const (
	ContentKindMusic   ContentKind = "music"
	ContentKindPodcast ContentKind = "podcast"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	return k == ContentKindMusic || k == ContentKindPodcast
}

// PrivacyLevel controls who can see a published track.
type PrivacyLevel string

const (
	PrivacyPublic   PrivacyLevel = "public"
	PrivacyUnlisted PrivacyLevel = "unlisted"
	PrivacyPrivate  PrivacyLevel = "private"
)

// Valid reports whether p is a known privacy level.
func (p PrivacyLevel) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyUnlisted, PrivacyPrivate:
		return true
	}
	return false
}

// ReleaseStatus is the publication state of an album.
type ReleaseStatus string

const (
	ReleaseDraft     ReleaseStatus = "draft"
	ReleaseScheduled ReleaseStatus = "scheduled"
	ReleasePublished ReleaseStatus = "published"
)

// Valid reports whether s is a known release status.
func (s ReleaseStatus) Valid() bool {
	switch s {
	case ReleaseDraft, ReleaseScheduled, ReleasePublished:
		return true
	}
	return false
}

// FileRef points at a local file the user picked.
type FileRef struct {
	URI      string `json:"uri"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Name     string `json:"name"`
}

// IsZero reports whether no file is referenced.
func (f FileRef) IsZero() bool {
	return f.URI == ""
}

// Ext returns the lower-cased extension of the file name, falling back to
// the URI.
func (f FileRef) Ext() string {
	name := f.Name
	if name == "" {
		name = f.URI
	}
	return strings.ToLower(filepath.Ext(name))
}

// UploadCandidate is the single track the user is preparing.
type UploadCandidate struct {
	Audio FileRef     `json:"audio"`
	Kind  ContentKind `json:"kind"`
	Cover *FileRef    `json:"cover,omitempty"`
}

// TrackCandidate is one track of an album.
type TrackCandidate struct {
	TrackNumber int     `json:"track_number"`
	Title       string  `json:"title"`
	Audio       FileRef `json:"audio"`
	Lyrics      string  `json:"lyrics,omitempty"`
}

// AlbumCandidate is a multi-track upload. It never coexists with an
// UploadCandidate in the same session.
type AlbumCandidate struct {
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Genre         string           `json:"genre"`
	Tags          string           `json:"tags"`
	Privacy       PrivacyLevel     `json:"privacy"`
	Explicit      bool             `json:"explicit"`
	Cover         *FileRef         `json:"cover,omitempty"`
	ReleaseStatus ReleaseStatus    `json:"release_status"`
	ReleaseAt     *time.Time       `json:"release_at,omitempty"`
	Tracks        []TrackCandidate `json:"tracks"`
}

// TrackForm holds the user-entered metadata of a single-track upload.
type TrackForm struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Tags        string       `json:"tags"` // comma-separated
	Genre       string       `json:"genre"`
	Privacy     PrivacyLevel `json:"privacy"`
	Explicit    bool         `json:"explicit"`
	Lyrics      string       `json:"lyrics,omitempty"`
}

// Attestation is the user's copyright declaration at submit time.
type Attestation struct {
	OriginalWork bool   `json:"original_work"`
	CoverSong    bool   `json:"cover_song"`
	Device       string `json:"device,omitempty"`
}

// ParseTags splits a comma-separated tag string, dropping blanks and
// duplicates while keeping order.
func ParseTags(raw string) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, part := range strings.Split(raw, ",") {
		tag := strings.TrimSpace(part)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, tag)
	}
	return tags
}
