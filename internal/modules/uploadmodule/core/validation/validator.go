// Package validation checks picked files against the upload limits before
// anything is sent over the network.
package validation

import (
	"fmt"
	"strings"

	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	apptypes "github.com/mantonx/tunevault/internal/types"
)

// CoverKind selects the size limit applied to cover art.
type CoverKind int

const (
	CoverSingle CoverKind = iota
	CoverAlbum
)

func (k CoverKind) String() string {
	if k == CoverAlbum {
		return "album cover"
	}
	return "cover"
}

// Result lists every rule a file broke.
type Result struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// Err converts an invalid result into a validation AppError.
func (r Result) Err(name string) error {
	if r.IsValid {
		return nil
	}
	return apptypes.NewFileValidationError(name, r.Errors)
}

// Validator applies the configured limits. It is safe for concurrent use.
type Validator struct {
	limits     config.LimitsConfig
	audioTypes map[string]bool
	imageTypes map[string]bool
}

// NewValidator builds a validator from the configured limits.
func NewValidator(limits config.LimitsConfig) *Validator {
	v := &Validator{
		limits:     limits,
		audioTypes: make(map[string]bool),
		imageTypes: make(map[string]bool),
	}
	for _, t := range limits.AudioTypes {
		v.audioTypes[strings.ToLower(strings.TrimSpace(t))] = true
	}
	for _, t := range limits.ImageTypes {
		v.imageTypes[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return v
}

// ValidateAudio checks an audio file.
func (v *Validator) ValidateAudio(f types.FileRef) Result {
	var problems []string

	if f.IsZero() {
		return invalid("no audio file selected")
	}

	switch {
	case f.Size <= 0:
		problems = append(problems, "file is empty")
	case f.Size > v.limits.MaxAudioBytes:
		problems = append(problems, fmt.Sprintf("file is too large (max %s)", humanBytes(v.limits.MaxAudioBytes)))
	case f.Size < v.limits.MinAudioBytes:
		problems = append(problems, fmt.Sprintf("file is too small to be a complete recording (min %s)", humanBytes(v.limits.MinAudioBytes)))
	}

	if !v.audioTypeAllowed(f) {
		problems = append(problems, "unsupported audio format (allowed: "+strings.Join(v.limits.AudioTypes, ", ")+")")
	}

	return result(problems)
}

// ValidateCover checks cover art for a track or an album.
func (v *Validator) ValidateCover(f types.FileRef, kind CoverKind) Result {
	var problems []string

	if f.IsZero() {
		return invalid("no image selected")
	}

	limit := v.limits.MaxCoverBytes
	if kind == CoverAlbum {
		limit = v.limits.MaxAlbumCoverBytes
	}

	if f.Size <= 0 {
		problems = append(problems, "image is empty")
	} else if f.Size > limit {
		problems = append(problems, fmt.Sprintf("%s is too large (max %s)", kind, humanBytes(limit)))
	}

	if !v.imageTypeAllowed(f) {
		problems = append(problems, "unsupported image format (allowed: "+strings.Join(v.limits.ImageTypes, ", ")+")")
	}

	return result(problems)
}

func (v *Validator) audioTypeAllowed(f types.FileRef) bool {
	mimeType := baseMimeType(f.MimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		return v.audioTypes[strings.TrimPrefix(f.Ext(), ".")]
	}

	major, sub, ok := strings.Cut(mimeType, "/")
	if !ok || major != "audio" {
		return false
	}
	sub = strings.TrimPrefix(sub, "x-")
	if v.audioTypes[sub] {
		return true
	}
	// audio/mp4 carries m4a and aac.
	return sub == "mp4" && (v.audioTypes["m4a"] || v.audioTypes["aac"])
}

func (v *Validator) imageTypeAllowed(f types.FileRef) bool {
	mimeType := baseMimeType(f.MimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		return v.imageTypes[strings.TrimPrefix(f.Ext(), ".")]
	}

	major, sub, ok := strings.Cut(mimeType, "/")
	if !ok || major != "image" {
		return false
	}
	return v.imageTypes[strings.TrimPrefix(sub, "x-")]
}

// ContentType returns the MIME type to store an asset under, derived from the
// extension when the picker did not report one.
func ContentType(f types.FileRef) string {
	if mimeType := baseMimeType(f.MimeType); mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}
	switch f.Ext() {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".aac":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func baseMimeType(mimeType string) string {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(mimeType))
}

func invalid(problem string) Result {
	return Result{IsValid: false, Errors: []string{problem}}
}

func result(problems []string) Result {
	return Result{IsValid: len(problems) == 0, Errors: problems}
}

func humanBytes(n int64) string {
	const mb = 1024 * 1024
	if n >= mb && n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	if n >= 1024 && n%1024 == 0 {
		return fmt.Sprintf("%dKB", n/1024)
	}
	return fmt.Sprintf("%d bytes", n)
}
