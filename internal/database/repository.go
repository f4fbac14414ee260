package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/config"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	"github.com/mantonx/tunevault/internal/utils"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository is the gorm implementation of the upload backend.
type Repository struct {
	db     *gorm.DB
	upload config.UploadConfig
	logger hclog.Logger
	now    func() time.Time
}

// NewRepository creates a repository. Tier rules come from upload.
func NewRepository(db *gorm.DB, upload config.UploadConfig, logger hclog.Logger) *Repository {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Repository{
		db:     db,
		upload: upload,
		logger: logger.Named("repository"),
		now:    time.Now,
	}
}

// CreateTrack writes a track record and returns its ID.
func (r *Repository) CreateTrack(ctx context.Context, record types.TrackRecord) (string, error) {
	track := Track{
		ID:               utils.GenerateUUID(),
		UserID:           record.UserID,
		Kind:             string(record.Kind),
		Title:            record.Title,
		Description:      record.Description,
		Tags:             StringList(record.Tags),
		Genre:            record.Genre,
		Privacy:          string(record.Privacy),
		Explicit:         record.Explicit,
		Lyrics:           record.Lyrics,
		AudioPath:        record.AudioPath,
		AudioURL:         record.AudioURL,
		AudioSize:        record.AudioSize,
		ContentType:      record.ContentType,
		CoverURL:         record.CoverURL,
		IsCover:          record.IsCover,
		ISRC:             record.ISRC,
		ISRCVerified:     record.ISRCVerified,
		ProvenanceStatus: record.ProvenanceStatus,
		Fingerprint:      JSONMap(record.Fingerprint),
		ManualReview:     record.ManualReview,

		OriginalWork:      record.Attestation.OriginalWork,
		CoverSongAttested: record.Attestation.CoverSong,
		AttestedAt:        record.Attestation.AttestedAt,
		AttestationDevice: record.Attestation.Device,
	}
	if track.Privacy == "" {
		track.Privacy = string(types.PrivacyPublic)
	}

	if err := r.db.WithContext(ctx).Create(&track).Error; err != nil {
		return "", fmt.Errorf("failed to create track: %w", err)
	}
	r.logger.Debug("track created", "track_id", track.ID, "user_id", track.UserID)
	return track.ID, nil
}

// CreateAlbum writes an album record and returns its ID.
func (r *Repository) CreateAlbum(ctx context.Context, record types.AlbumRecord) (string, error) {
	album := Album{
		ID:            utils.GenerateUUID(),
		UserID:        record.UserID,
		Title:         record.Title,
		Description:   record.Description,
		Genre:         record.Genre,
		Tags:          StringList(record.Tags),
		Privacy:       string(record.Privacy),
		Explicit:      record.Explicit,
		CoverURL:      record.CoverURL,
		ReleaseStatus: string(record.ReleaseStatus),
		ReleaseAt:     record.ReleaseAt,
		TrackCount:    record.TrackCount,
	}
	if album.Privacy == "" {
		album.Privacy = string(types.PrivacyPublic)
	}
	if album.ReleaseStatus == "" {
		album.ReleaseStatus = string(types.ReleaseDraft)
	}

	if err := r.db.WithContext(ctx).Create(&album).Error; err != nil {
		return "", fmt.Errorf("failed to create album: %w", err)
	}
	r.logger.Debug("album created", "album_id", album.ID, "user_id", album.UserID)
	return album.ID, nil
}

// LinkTrackToAlbum places a track on an album at trackNumber.
func (r *Repository) LinkTrackToAlbum(ctx context.Context, albumID, trackID string, trackNumber int) error {
	link := AlbumTrack{AlbumID: albumID, TrackID: trackID, TrackNumber: trackNumber}
	if err := r.db.WithContext(ctx).Create(&link).Error; err != nil {
		return fmt.Errorf("failed to link track %s to album %s: %w", trackID, albumID, err)
	}
	return nil
}

// GetQuota computes the account's monthly upload allowance and storage use.
func (r *Repository) GetQuota(ctx context.Context, userID string) (*types.UploadQuota, error) {
	account, err := r.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	tier := r.upload.Tier(account.Tier)

	var uploads int64
	if err := r.db.WithContext(ctx).Model(&Track{}).
		Where("user_id = ? AND created_at >= ?", userID, startOfMonth(r.now())).
		Count(&uploads).Error; err != nil {
		return nil, fmt.Errorf("failed to count uploads: %w", err)
	}

	usage, err := r.usage(ctx, account)
	if err != nil {
		return nil, err
	}

	quota := &types.UploadQuota{
		Tier:             account.Tier,
		UploadsThisMonth: int(uploads),
		Storage:          types.StorageUsage{Used: usage.StorageUsed, Limit: usage.StorageLimit},
	}
	if usage.StorageLimit != nil && *usage.StorageLimit > 0 {
		quota.Storage.PercentUsed = float64(usage.StorageUsed) / float64(*usage.StorageLimit) * 100
	}

	limit := tier.MonthlyUploads
	if account.UploadLimit != nil {
		limit = *account.UploadLimit
	}
	if account.IsUnlimited || limit <= 0 {
		quota.IsUnlimited = true
		quota.CanUpload = true
		return quota, nil
	}

	remaining := limit - int(uploads)
	if remaining < 0 {
		remaining = 0
	}
	quota.UploadLimit = &limit
	quota.Remaining = &remaining
	quota.CanUpload = remaining > 0
	return quota, nil
}

// GetUsageLimits reports storage used against the account's storage limit.
func (r *Repository) GetUsageLimits(ctx context.Context, userID string) (*types.UsageLimits, error) {
	account, err := r.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.usage(ctx, account)
}

// CanCreateAlbum checks the tier's album rules for an album of trackCount
// tracks.
func (r *Repository) CanCreateAlbum(ctx context.Context, userID string, trackCount int) (*types.AlbumEligibility, error) {
	account, err := r.account(ctx, userID)
	if err != nil {
		return nil, err
	}
	tier := r.upload.Tier(account.Tier)

	if !tier.AlbumsAllowed && !account.IsUnlimited {
		return &types.AlbumEligibility{Allowed: false, Reason: "Albums are available on Premium and Pro plans."}, nil
	}

	eligibility := &types.AlbumEligibility{Allowed: true, MaxTracks: tier.MaxAlbumTracks}
	if account.IsUnlimited {
		eligibility.MaxTracks = 0
		return eligibility, nil
	}

	if tier.MaxAlbumTracks > 0 && trackCount > tier.MaxAlbumTracks {
		eligibility.Allowed = false
		eligibility.Reason = fmt.Sprintf("Your plan allows up to %d tracks per album.", tier.MaxAlbumTracks)
		return eligibility, nil
	}

	if tier.MaxAlbums > 0 {
		var albums int64
		if err := r.db.WithContext(ctx).Model(&Album{}).Where("user_id = ?", userID).Count(&albums).Error; err != nil {
			return nil, fmt.Errorf("failed to count albums: %w", err)
		}
		if int(albums) >= tier.MaxAlbums {
			eligibility.Allowed = false
			eligibility.Reason = fmt.Sprintf("Your plan allows up to %d albums.", tier.MaxAlbums)
		}
	}
	return eligibility, nil
}

// GetTrack loads a track by ID.
func (r *Repository) GetTrack(ctx context.Context, id string) (*Track, error) {
	var track Track
	if err := r.db.WithContext(ctx).First(&track, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get track: %w", err)
	}
	return &track, nil
}

// GetAlbum loads an album by ID.
func (r *Repository) GetAlbum(ctx context.Context, id string) (*Album, error) {
	var album Album
	if err := r.db.WithContext(ctx).First(&album, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get album: %w", err)
	}
	return &album, nil
}

// ListAlbumTracks returns the album's track links ordered by position.
func (r *Repository) ListAlbumTracks(ctx context.Context, albumID string) ([]AlbumTrack, error) {
	var links []AlbumTrack
	if err := r.db.WithContext(ctx).Where("album_id = ?", albumID).Order("track_number").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list album tracks: %w", err)
	}
	return links, nil
}

// ListTracksForReview returns tracks flagged for manual provenance review.
func (r *Repository) ListTracksForReview(ctx context.Context, limit int) ([]Track, error) {
	var tracks []Track
	query := r.db.WithContext(ctx).Where("manual_review = ?", true).Order("created_at")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tracks for review: %w", err)
	}
	return tracks, nil
}

// SaveAccount creates or updates an account.
func (r *Repository) SaveAccount(ctx context.Context, account *Account) error {
	if account.Tier == "" {
		account.Tier = config.TierFree
	}
	if err := r.db.WithContext(ctx).Save(account).Error; err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// account loads the account, treating unknown users as free-tier accounts.
func (r *Repository) account(ctx context.Context, userID string) (*Account, error) {
	var account Account
	err := r.db.WithContext(ctx).First(&account, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Account{ID: userID, Tier: config.TierFree}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &account, nil
}

func (r *Repository) usage(ctx context.Context, account *Account) (*types.UsageLimits, error) {
	var used struct{ Total int64 }
	if err := r.db.WithContext(ctx).Model(&Track{}).
		Select("COALESCE(SUM(audio_size), 0) AS total").
		Where("user_id = ?", account.ID).
		Scan(&used).Error; err != nil {
		return nil, fmt.Errorf("failed to sum storage: %w", err)
	}

	usage := &types.UsageLimits{StorageUsed: used.Total, IsUnlimited: account.IsUnlimited}
	limit := r.upload.Tier(account.Tier).StorageBytes
	if account.StorageLimit != nil {
		limit = *account.StorageLimit
	}
	if limit > 0 {
		usage.StorageLimit = &limit
	} else {
		usage.IsUnlimited = true
	}
	return usage, nil
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
