package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Account is an uploader and their plan.
type Account struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	DisplayName  string    `json:"display_name"`
	Tier         string    `gorm:"not null;default:free" json:"tier"`
	UploadLimit  *int      `json:"upload_limit,omitempty"`  // overrides the tier when set
	StorageLimit *int64    `json:"storage_limit,omitempty"` // overrides the tier when set
	IsUnlimited  bool      `json:"is_unlimited"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Track is an uploaded recording and its provenance.
type Track struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	UserID      string     `gorm:"not null;index" json:"user_id"`
	Kind        string     `gorm:"not null" json:"kind"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `json:"description"`
	Tags        StringList `gorm:"type:text" json:"tags"`
	Genre       string     `json:"genre"`
	Privacy     string     `gorm:"not null;default:public" json:"privacy"`
	Explicit    bool       `json:"explicit"`
	Lyrics      string     `gorm:"type:text" json:"lyrics,omitempty"`

	AudioPath   string `gorm:"not null" json:"audio_path"`
	AudioURL    string `gorm:"not null" json:"audio_url"`
	AudioSize   int64  `json:"audio_size"`
	ContentType string `json:"content_type"`
	CoverURL    string `json:"cover_url,omitempty"`

	IsCover          bool    `json:"is_cover"`
	ISRC             string  `gorm:"index" json:"isrc,omitempty"`
	ISRCVerified     bool    `json:"isrc_verified"`
	ProvenanceStatus string  `json:"provenance_status"`
	Fingerprint      JSONMap `gorm:"type:text" json:"fingerprint,omitempty"`
	ManualReview     bool    `gorm:"index" json:"manual_review"`

	OriginalWork      bool      `json:"original_work"`
	CoverSongAttested bool      `json:"cover_song_attested"`
	AttestedAt        time.Time `json:"attested_at"`
	AttestationDevice string    `json:"attestation_device,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Album groups tracks. It is written before any of its tracks.
type Album struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	UserID        string     `gorm:"not null;index" json:"user_id"`
	Title         string     `gorm:"not null" json:"title"`
	Description   string     `json:"description"`
	Genre         string     `json:"genre"`
	Tags          StringList `gorm:"type:text" json:"tags"`
	Privacy       string     `gorm:"not null;default:public" json:"privacy"`
	Explicit      bool       `json:"explicit"`
	CoverURL      string     `json:"cover_url,omitempty"`
	ReleaseStatus string     `gorm:"not null;default:draft" json:"release_status"`
	ReleaseAt     *time.Time `json:"release_at,omitempty"`
	TrackCount    int        `json:"track_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AlbumTrack places a track on an album.
type AlbumTrack struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AlbumID     string    `gorm:"not null;uniqueIndex:idx_album_track_position" json:"album_id"`
	TrackID     string    `gorm:"not null;index" json:"track_id"`
	TrackNumber int       `gorm:"not null;uniqueIndex:idx_album_track_position" json:"track_number"`
	CreatedAt   time.Time `json:"created_at"`
}

// AllModels lists every table for migrations.
func AllModels() []interface{} {
	return []interface{}{
		&Account{},
		&Track{},
		&Album{},
		&AlbumTrack{},
	}
}

// StringList is stored as a comma-separated string.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	return strings.Join(l, ","), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var raw string
	switch s := value.(type) {
	case string:
		raw = s
	case []byte:
		raw = string(s)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
	if raw == "" {
		*l = nil
		return nil
	}
	*l = strings.Split(raw, ",")
	return nil
}

// JSONMap is stored as a JSON document.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch s := value.(type) {
	case string:
		data = []byte(s)
	case []byte:
		data = s
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, m)
}
