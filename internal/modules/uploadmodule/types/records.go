package types

import "time"

// CopyrightAttestation is stored with every track record.
type CopyrightAttestation struct {
	OriginalWork bool      `json:"original_work"`
	CoverSong    bool      `json:"cover_song"`
	AttestedAt   time.Time `json:"attested_at"`
	Device       string    `json:"device,omitempty"`
}

// TrackRecord is the metadata written for an uploaded track.
type TrackRecord struct {
	UserID      string
	Kind        ContentKind
	Title       string
	Description string
	Tags        []string
	Genre       string
	Privacy     PrivacyLevel
	Explicit    bool
	Lyrics      string

	AudioPath   string
	AudioURL    string
	AudioSize   int64
	ContentType string
	CoverURL    string

	IsCover          bool
	ISRC             string
	ISRCVerified     bool
	ProvenanceStatus string
	Fingerprint      map[string]interface{}
	ManualReview     bool
	Attestation      CopyrightAttestation
}

// AlbumRecord is the metadata written for an album before its tracks.
type AlbumRecord struct {
	UserID        string
	Title         string
	Description   string
	Genre         string
	Tags          []string
	Privacy       PrivacyLevel
	Explicit      bool
	CoverURL      string
	ReleaseStatus ReleaseStatus
	ReleaseAt     *time.Time
	TrackCount    int
}
