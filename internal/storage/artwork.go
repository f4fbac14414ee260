package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/config"
)

// ArtworkNormalizer re-encodes cover art as WebP when enabled.
type ArtworkNormalizer struct {
	enabled bool
	quality int
	logger  hclog.Logger
}

// NewArtworkNormalizer creates a normalizer from the artwork config.
func NewArtworkNormalizer(cfg config.ArtworkConfig, logger hclog.Logger) *ArtworkNormalizer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	quality := cfg.Quality
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return &ArtworkNormalizer{
		enabled: cfg.ConvertWebP,
		quality: quality,
		logger:  logger.Named("artwork"),
	}
}

// Normalize returns the bytes and MIME type to store. On any conversion
// failure the original image is returned unchanged.
func (n *ArtworkNormalizer) Normalize(data []byte, mimeType string) ([]byte, string) {
	if !n.enabled || strings.EqualFold(mimeType, "image/webp") {
		return data, mimeType
	}

	converted, err := n.convertToWebP(data, mimeType)
	if err != nil {
		n.logger.Warn("artwork conversion failed, keeping original", "mime_type", mimeType, "error", err)
		return data, mimeType
	}
	return converted, "image/webp"
}

func (n *ArtworkNormalizer) convertToWebP(data []byte, mimeType string) ([]byte, error) {
	img, err := decodeImage(data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	options := &webp.Options{Lossless: n.quality == 100, Quality: float32(n.quality)}
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode as WebP: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeImage(data []byte, mimeType string) (image.Image, error) {
	reader := bytes.NewReader(data)

	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return jpeg.Decode(reader)
	case "image/png":
		return png.Decode(reader)
	default:
		img, _, err := image.Decode(reader)
		return img, err
	}
}
