package validation

import (
	"os"
	"strings"

	"github.com/dhowden/tag"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
)

// TagInfo is what the embedded tags say about an audio file.
type TagInfo struct {
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	Genre      string `json:"genre,omitempty"`
	Year       int    `json:"year,omitempty"`
	Track      int    `json:"track,omitempty"`
	Format     string `json:"format,omitempty"`
	FileType   string `json:"file_type,omitempty"`
	HasPicture bool   `json:"has_picture"`
	Lyrics     string `json:"lyrics,omitempty"`
}

// Inspect reads embedded tags from a local audio file. Unreadable files and
// files without tags report false.
func Inspect(f types.FileRef) (TagInfo, bool) {
	file, err := os.Open(f.URI)
	if err != nil {
		return TagInfo{}, false
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		return TagInfo{}, false
	}

	track, _ := metadata.Track()
	info := TagInfo{
		Title:      strings.TrimSpace(metadata.Title()),
		Artist:     strings.TrimSpace(metadata.Artist()),
		Album:      strings.TrimSpace(metadata.Album()),
		Genre:      strings.TrimSpace(metadata.Genre()),
		Year:       metadata.Year(),
		Track:      track,
		Format:     string(metadata.Format()),
		FileType:   string(metadata.FileType()),
		HasPicture: metadata.Picture() != nil,
		Lyrics:     metadata.Lyrics(),
	}
	if info.Artist == "" {
		info.Artist = strings.TrimSpace(metadata.AlbumArtist())
	}
	return info, true
}
