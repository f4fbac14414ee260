package types

// StorageUsage is the storage part of a quota.
type StorageUsage struct {
	Used        int64   `json:"used"`
	Limit       *int64  `json:"limit,omitempty"`
	PercentUsed float64 `json:"percent_used"`
}

// UploadQuota is the account's monthly upload allowance.
type UploadQuota struct {
	Tier             string       `json:"tier"`
	UploadsThisMonth int          `json:"uploads_this_month"`
	UploadLimit      *int         `json:"upload_limit,omitempty"`
	Remaining        *int         `json:"remaining,omitempty"`
	IsUnlimited      bool         `json:"is_unlimited"`
	CanUpload        bool         `json:"can_upload"`
	Storage          StorageUsage `json:"storage"`
}

// Clone returns a deep copy.
func (q UploadQuota) Clone() UploadQuota {
	out := q
	if q.UploadLimit != nil {
		limit := *q.UploadLimit
		out.UploadLimit = &limit
	}
	if q.Remaining != nil {
		remaining := *q.Remaining
		out.Remaining = &remaining
	}
	if q.Storage.Limit != nil {
		limit := *q.Storage.Limit
		out.Storage.Limit = &limit
	}
	return out
}

// UsageLimits is the storage usage reported by the backend.
type UsageLimits struct {
	StorageUsed  int64  `json:"storage_used"`
	StorageLimit *int64 `json:"storage_limit,omitempty"`
	IsUnlimited  bool   `json:"is_unlimited"`
}

// RemainingStorage returns the bytes left, and false when there is no limit.
func (u UsageLimits) RemainingStorage() (int64, bool) {
	if u.IsUnlimited || u.StorageLimit == nil {
		return 0, false
	}
	remaining := *u.StorageLimit - u.StorageUsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// AlbumEligibility is the server's answer to "can I create another album".
type AlbumEligibility struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	MaxTracks int    `json:"max_tracks,omitempty"` // 0 means no limit
}
