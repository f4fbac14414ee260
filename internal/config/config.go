package config

import (
	"time"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Object storage for staged and final assets
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Remote audio recognition service
	Fingerprint FingerprintConfig `yaml:"fingerprint" json:"fingerprint"`

	// Remote rights registry used for ISRC lookups
	Registry RegistryConfig `yaml:"registry" json:"registry"`

	// Upload pipeline limits, tiers and timeouts
	Upload UploadConfig `yaml:"upload" json:"upload"`

	// Cover art processing
	Artwork ArtworkConfig `yaml:"artwork" json:"artwork"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"TUNEVAULT_HOST"`
	Port           int           `yaml:"port" json:"port" env:"TUNEVAULT_PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"TUNEVAULT_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"TUNEVAULT_WRITE_TIMEOUT"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" json:"max_upload_bytes" env:"TUNEVAULT_MAX_UPLOAD_BYTES"`
	IntakeDir      string        `yaml:"intake_dir" json:"intake_dir" env:"TUNEVAULT_INTAKE_DIR"`
	AllowedOrigins []string      `yaml:"allowed_origins" json:"allowed_origins" env:"TUNEVAULT_ALLOWED_ORIGINS"`
}

// DatabaseConfig selects and tunes the relational backend
type DatabaseConfig struct {
	Type            string        `yaml:"type" json:"type" env:"DATABASE_TYPE"`
	URL             string        `yaml:"url" json:"url" env:"DATABASE_URL"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"TUNEVAULT_DATA_DIR"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"TUNEVAULT_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES"`
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	DataDir       string `yaml:"data_dir" json:"data_dir" env:"TUNEVAULT_STORAGE_DIR"`
	PublicBaseURL string `yaml:"public_base_url" json:"public_base_url" env:"TUNEVAULT_PUBLIC_BASE_URL"`
	StagingPrefix string `yaml:"staging_prefix" json:"staging_prefix" env:"TUNEVAULT_STAGING_PREFIX"`
	AudioPrefix   string `yaml:"audio_prefix" json:"audio_prefix" env:"TUNEVAULT_AUDIO_PREFIX"`
	ArtworkPrefix string `yaml:"artwork_prefix" json:"artwork_prefix" env:"TUNEVAULT_ARTWORK_PREFIX"`
}

// FingerprintConfig configures the recognition API client
type FingerprintConfig struct {
	Enabled              bool          `yaml:"enabled" json:"enabled" env:"TUNEVAULT_FINGERPRINT_ENABLED"`
	Endpoint             string        `yaml:"endpoint" json:"endpoint" env:"TUNEVAULT_FINGERPRINT_ENDPOINT"`
	APIKey               string        `yaml:"api_key" json:"-" env:"TUNEVAULT_FINGERPRINT_API_KEY"`
	RequestTimeout       time.Duration `yaml:"request_timeout" json:"request_timeout" env:"TUNEVAULT_FINGERPRINT_TIMEOUT"`
	ArtistMatchThreshold float64       `yaml:"artist_match_threshold" json:"artist_match_threshold" env:"TUNEVAULT_ARTIST_MATCH_THRESHOLD"`
}

// RegistryConfig configures the rights registry client
type RegistryConfig struct {
	Endpoint       string        `yaml:"endpoint" json:"endpoint" env:"TUNEVAULT_REGISTRY_ENDPOINT"`
	APIKey         string        `yaml:"api_key" json:"-" env:"TUNEVAULT_REGISTRY_API_KEY"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" env:"TUNEVAULT_REGISTRY_TIMEOUT"`
	RequestsPerSec float64       `yaml:"requests_per_sec" json:"requests_per_sec" env:"TUNEVAULT_REGISTRY_RPS"`
	Burst          int           `yaml:"burst" json:"burst" env:"TUNEVAULT_REGISTRY_BURST"`
	CacheSize      int           `yaml:"cache_size" json:"cache_size" env:"TUNEVAULT_REGISTRY_CACHE_SIZE"`
	CacheTTL       time.Duration `yaml:"cache_ttl" json:"cache_ttl" env:"TUNEVAULT_REGISTRY_CACHE_TTL"`
}

// UploadConfig holds the pipeline's limits and timing
type UploadConfig struct {
	Limits       LimitsConfig          `yaml:"limits" json:"limits"`
	Timeouts     TimeoutsConfig        `yaml:"timeouts" json:"timeouts"`
	Tiers        map[string]TierConfig `yaml:"tiers" json:"tiers"`
	ISRCDebounce time.Duration         `yaml:"isrc_debounce" json:"isrc_debounce" env:"TUNEVAULT_ISRC_DEBOUNCE"`

	// Shown when the account cannot upload and the tier has no message of its own.
	DefaultUpgradeMessage  string `yaml:"default_upgrade_message" json:"default_upgrade_message"`
	StorageExceededMessage string `yaml:"storage_exceeded_message" json:"storage_exceeded_message"`
}

// LimitsConfig holds byte limits for the file validator
type LimitsConfig struct {
	MaxAudioBytes      int64    `yaml:"max_audio_bytes" json:"max_audio_bytes" env:"TUNEVAULT_MAX_AUDIO_BYTES"`
	MinAudioBytes      int64    `yaml:"min_audio_bytes" json:"min_audio_bytes" env:"TUNEVAULT_MIN_AUDIO_BYTES"`
	MaxCoverBytes      int64    `yaml:"max_cover_bytes" json:"max_cover_bytes" env:"TUNEVAULT_MAX_COVER_BYTES"`
	MaxAlbumCoverBytes int64    `yaml:"max_album_cover_bytes" json:"max_album_cover_bytes" env:"TUNEVAULT_MAX_ALBUM_COVER_BYTES"`
	AudioTypes         []string `yaml:"audio_types" json:"audio_types" env:"TUNEVAULT_AUDIO_TYPES"`
	ImageTypes         []string `yaml:"image_types" json:"image_types" env:"TUNEVAULT_IMAGE_TYPES"`
}

// TimeoutsConfig bounds every asynchronous step of the pipeline
type TimeoutsConfig struct {
	Staging  time.Duration `yaml:"staging" json:"staging" env:"TUNEVAULT_TIMEOUT_STAGING"`
	Registry time.Duration `yaml:"registry" json:"registry" env:"TUNEVAULT_TIMEOUT_REGISTRY"`
	Quota    time.Duration `yaml:"quota" json:"quota" env:"TUNEVAULT_TIMEOUT_QUOTA"`
	Transfer time.Duration `yaml:"transfer" json:"transfer" env:"TUNEVAULT_TIMEOUT_TRANSFER"`
	Record   time.Duration `yaml:"record" json:"record" env:"TUNEVAULT_TIMEOUT_RECORD"`
	Cleanup  time.Duration `yaml:"cleanup" json:"cleanup" env:"TUNEVAULT_TIMEOUT_CLEANUP"`
}

// TierConfig describes what a subscription tier may do
type TierConfig struct {
	MonthlyUploads int    `yaml:"monthly_uploads" json:"monthly_uploads"` // 0 means no limit
	StorageBytes   int64  `yaml:"storage_bytes" json:"storage_bytes"`     // 0 means no limit
	AlbumsAllowed  bool   `yaml:"albums_allowed" json:"albums_allowed"`
	MaxAlbums      int    `yaml:"max_albums" json:"max_albums"`             // 0 means no limit
	MaxAlbumTracks int    `yaml:"max_album_tracks" json:"max_album_tracks"` // 0 means no limit
	UpgradeMessage string `yaml:"upgrade_message" json:"upgrade_message"`
}

// ArtworkConfig controls cover art normalization
type ArtworkConfig struct {
	ConvertWebP bool `yaml:"convert_webp" json:"convert_webp" env:"TUNEVAULT_ARTWORK_WEBP"`
	Quality     int  `yaml:"quality" json:"quality" env:"TUNEVAULT_ARTWORK_QUALITY"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" json:"level" env:"TUNEVAULT_LOG_LEVEL"`
	Format       string `yaml:"format" json:"format" env:"TUNEVAULT_LOG_FORMAT"`
	EnableColors bool   `yaml:"enable_colors" json:"enable_colors" env:"TUNEVAULT_LOG_COLORS"`
}

// MetricsConfig holds the Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" env:"TUNEVAULT_METRICS_ENABLED"`
	Path    string `yaml:"path" json:"path" env:"TUNEVAULT_METRICS_PATH"`
}

const (
	TierFree    = "free"
	TierPremium = "premium"
	TierPro     = "pro"
)

// Tier returns the configuration for the named tier. Unknown tiers get the
// free tier's rules.
func (u UploadConfig) Tier(name string) TierConfig {
	if tier, ok := u.Tiers[name]; ok {
		return tier
	}
	return u.Tiers[TierFree]
}

// UpgradeMessage returns the text shown when the tier has run out of uploads.
func (u UploadConfig) UpgradeMessage(tier string) string {
	if msg := u.Tier(tier).UpgradeMessage; msg != "" {
		return msg
	}
	return u.DefaultUpgradeMessage
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   60 * time.Second,
			MaxUploadBytes: 110 * 1024 * 1024,
			AllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			Type:            "sqlite",
			DataDir:         "./data",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 2 * time.Hour,
		},
		Storage: StorageConfig{
			PublicBaseURL: "http://localhost:8080/media",
			StagingPrefix: "staging/fingerprint",
			AudioPrefix:   "audio",
			ArtworkPrefix: "artwork",
		},
		Fingerprint: FingerprintConfig{
			Enabled:              true,
			Endpoint:             "http://localhost:9090/recognize",
			RequestTimeout:       45 * time.Second,
			ArtistMatchThreshold: 0.85,
		},
		Registry: RegistryConfig{
			Endpoint:       "http://localhost:9091/isrc",
			RequestTimeout: 10 * time.Second,
			RequestsPerSec: 2,
			Burst:          2,
			CacheSize:      512,
			CacheTTL:       24 * time.Hour,
		},
		Upload: UploadConfig{
			Limits: LimitsConfig{
				MaxAudioBytes:      100 * 1024 * 1024,
				MinAudioBytes:      1 * 1024 * 1024,
				MaxCoverBytes:      5 * 1024 * 1024,
				MaxAlbumCoverBytes: 2 * 1024 * 1024,
				AudioTypes:         []string{"mpeg", "mp3", "wav", "m4a", "aac", "ogg", "flac"},
				ImageTypes:         []string{"jpeg", "jpg", "png", "webp"},
			},
			Timeouts: TimeoutsConfig{
				Staging:  2 * time.Minute,
				Registry: 10 * time.Second,
				Quota:    10 * time.Second,
				Transfer: 5 * time.Minute,
				Record:   30 * time.Second,
				Cleanup:  30 * time.Second,
			},
			Tiers: map[string]TierConfig{
				TierFree: {
					MonthlyUploads: 3,
					StorageBytes:   500 * 1024 * 1024,
					AlbumsAllowed:  false,
					UpgradeMessage: "You've used all free uploads this month. Upgrade to Premium for more uploads and albums.",
				},
				TierPremium: {
					MonthlyUploads: 25,
					StorageBytes:   10 * 1024 * 1024 * 1024,
					AlbumsAllowed:  true,
					MaxAlbums:      5,
					MaxAlbumTracks: 10,
					UpgradeMessage: "You've reached your Premium upload limit. Upgrade to Pro for unlimited uploads.",
				},
				TierPro: {
					AlbumsAllowed: true,
				},
			},
			ISRCDebounce:           500 * time.Millisecond,
			DefaultUpgradeMessage:  "Upload limit reached. Upgrade your plan to keep uploading.",
			StorageExceededMessage: "Not enough storage left for this file. Free up space or upgrade your plan.",
		},
		Artwork: ArtworkConfig{
			ConvertWebP: false,
			Quality:     90,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "text",
			EnableColors: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
