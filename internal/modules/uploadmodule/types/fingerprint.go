package types

// FingerprintResult is the normalized outcome of a recognition call. It is
// one of Match, NoMatch or FingerprintError.
type FingerprintResult interface {
	fingerprintResult()
	Outcome() string
}

// FingerprintErrorCode classifies a failed recognition.
type FingerprintErrorCode string

const (
	FingerprintQuotaExceeded FingerprintErrorCode = "quota_exceeded"
	FingerprintTimeout       FingerprintErrorCode = "timeout"
	FingerprintAPIError      FingerprintErrorCode = "api_error"
	FingerprintInvalidFile   FingerprintErrorCode = "invalid_file"
)

// Match is a recognized, already released recording.
type Match struct {
	Title            string  `json:"title"`
	Artist           string  `json:"artist"`
	Album            string  `json:"album,omitempty"`
	Label            string  `json:"label,omitempty"`
	ISRC             string  `json:"isrc,omitempty"`
	ArtistConfidence float64 `json:"artist_confidence,omitempty"`
	ArtistMatch      *bool   `json:"artist_match,omitempty"`
}

// NoMatch means the recognizer found nothing.
type NoMatch struct{}

// FingerprintError means recognition could not be completed.
type FingerprintError struct {
	Reason string               `json:"reason"`
	Code   FingerprintErrorCode `json:"code"`
}

func (Match) fingerprintResult()            {}
func (NoMatch) fingerprintResult()          {}
func (FingerprintError) fingerprintResult() {}

func (Match) Outcome() string            { return "match" }
func (NoMatch) Outcome() string          { return "no_match" }
func (FingerprintError) Outcome() string { return "error" }

// RequiresManualReview is always true: a failed check is never blocking.
func (FingerprintError) RequiresManualReview() bool { return true }

func (e FingerprintError) Error() string {
	return string(e.Code) + ": " + e.Reason
}

// FingerprintSnapshot renders a result for embedding in a track record.
func FingerprintSnapshot(result FingerprintResult) map[string]interface{} {
	switch r := result.(type) {
	case Match:
		snapshot := map[string]interface{}{
			"outcome": r.Outcome(),
			"title":   r.Title,
			"artist":  r.Artist,
		}
		if r.Album != "" {
			snapshot["album"] = r.Album
		}
		if r.Label != "" {
			snapshot["label"] = r.Label
		}
		if r.ISRC != "" {
			snapshot["isrc"] = r.ISRC
		}
		if r.ArtistConfidence > 0 {
			snapshot["artist_confidence"] = r.ArtistConfidence
		}
		if r.ArtistMatch != nil {
			snapshot["artist_match"] = *r.ArtistMatch
		}
		return snapshot
	case NoMatch:
		return map[string]interface{}{"outcome": r.Outcome()}
	case FingerprintError:
		return map[string]interface{}{
			"outcome": r.Outcome(),
			"code":    string(r.Code),
			"reason":  r.Reason,
		}
	default:
		return nil
	}
}
