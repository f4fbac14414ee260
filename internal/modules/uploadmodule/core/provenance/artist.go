package provenance

import (
	"fmt"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
)

// ArtistSimilarity scores two artist names between 0 and 1, ignoring case
// and surrounding whitespace.
func ArtistSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	return strutil.Similarity(a, b, metrics.NewJaroWinkler())
}

// ArtistWarning returns a warning when the detected artist does not look
// like the uploader. The recognizer's own verdict wins when it sent one.
func ArtistWarning(match types.Match, uploader string, threshold float64) (string, bool) {
	if match.Artist == "" || strings.TrimSpace(uploader) == "" {
		return "", false
	}

	mismatch := false
	if match.ArtistMatch != nil {
		mismatch = !*match.ArtistMatch
	} else {
		mismatch = ArtistSimilarity(match.Artist, uploader) < threshold
	}
	if !mismatch {
		return "", false
	}
	return fmt.Sprintf("This recording was identified as %q by %s. Make sure you own the rights before uploading.", match.Title, match.Artist), true
}
