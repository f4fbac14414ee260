package types

// IsrcStatus is one of IsrcIdle, IsrcLoading, IsrcVerified or IsrcRejected.
type IsrcStatus interface {
	isrcStatus()
	Name() string
}

// VerificationAnchor records what proved an ISRC.
type VerificationAnchor string

const (
	AnchorMatch    VerificationAnchor = "match"
	AnchorRegistry VerificationAnchor = "registry"
)

// RecordingInfo describes the recording an ISRC belongs to.
type RecordingInfo struct {
	ISRC   string `json:"isrc"`
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Label  string `json:"label,omitempty"`
	Year   int    `json:"year,omitempty"`
}

type IsrcIdle struct{}

type IsrcLoading struct{}

type IsrcVerified struct {
	Recording RecordingInfo      `json:"recording"`
	Anchor    VerificationAnchor `json:"anchor"`
}

type IsrcRejected struct {
	Reason string `json:"reason"`
}

func (IsrcIdle) isrcStatus()     {}
func (IsrcLoading) isrcStatus()  {}
func (IsrcVerified) isrcStatus() {}
func (IsrcRejected) isrcStatus() {}

func (IsrcIdle) Name() string     { return "idle" }
func (IsrcLoading) Name() string  { return "loading" }
func (IsrcVerified) Name() string { return "verified" }
func (IsrcRejected) Name() string { return "rejected" }

// IsrcVerification is the ISRC sub-state of a provenance check.
type IsrcVerification struct {
	Code   string
	Status IsrcStatus
}

// Verified returns the verified payload when the status is IsrcVerified.
func (v IsrcVerification) Verified() (IsrcVerified, bool) {
	verified, ok := v.Status.(IsrcVerified)
	return verified, ok
}

// IsrcView is the JSON shape of an ISRC verification.
type IsrcView struct {
	Code      string             `json:"code"`
	Status    string             `json:"status"`
	Recording *RecordingInfo     `json:"recording,omitempty"`
	Anchor    VerificationAnchor `json:"anchor,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

// View flattens the verification for the wire.
func (v IsrcVerification) View() IsrcView {
	status := v.Status
	if status == nil {
		status = IsrcIdle{}
	}
	view := IsrcView{Code: v.Code, Status: status.Name()}
	switch s := status.(type) {
	case IsrcVerified:
		rec := s.Recording
		view.Recording = &rec
		view.Anchor = s.Anchor
	case IsrcRejected:
		view.Reason = s.Reason
	}
	return view
}
