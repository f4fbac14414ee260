// Package provenance tracks whether an upload is an original work, a known
// release or a cover, and decides when the user may submit.
package provenance

import (
	"net/http"
	"sync"

	uploaderrors "github.com/mantonx/tunevault/internal/modules/uploadmodule/errors"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
	apptypes "github.com/mantonx/tunevault/internal/types"
)

// Observer is called after every provenance or ISRC change, outside the
// machine's lock.
type Observer func(state types.ProvenanceState, isrc types.IsrcVerification)

// Machine is the provenance state of one upload session. It is safe for
// concurrent use.
type Machine struct {
	mu       sync.Mutex
	state    types.ProvenanceState
	token    uint64
	isrc     types.IsrcVerification
	isrcGen  uint64
	observer Observer
}

// NewMachine returns a machine in the idle state.
func NewMachine() *Machine {
	return &Machine{
		state: types.ProvenanceIdle{},
		isrc:  types.IsrcVerification{Status: types.IsrcIdle{}},
	}
}

// SetObserver registers the change hook.
func (m *Machine) SetObserver(observer Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = observer
}

// State returns the current provenance state.
func (m *Machine) State() types.ProvenanceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ISRC returns the current ISRC verification.
func (m *Machine) ISRC() types.IsrcVerification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isrc
}

// Begin starts a check for a newly selected file. The returned token must
// be passed to Resolve; any earlier token becomes stale.
func (m *Machine) Begin() uint64 {
	m.mu.Lock()
	m.token++
	token := m.token
	m.state = types.ProvenanceChecking{}
	m.resetISRCLocked()
	m.mu.Unlock()

	m.notify()
	return token
}

// Resolve applies a fingerprint result. Results for a superseded or
// cancelled check return ErrStaleResult and change nothing.
func (m *Machine) Resolve(token uint64, result types.FingerprintResult) error {
	m.mu.Lock()
	if token != m.token {
		m.mu.Unlock()
		return uploaderrors.ErrStaleResult
	}
	if _, checking := m.state.(types.ProvenanceChecking); !checking {
		m.mu.Unlock()
		return uploaderrors.ErrStaleResult
	}

	switch r := result.(type) {
	case types.Match:
		m.state = types.ProvenanceMatched{Match: r}
	case types.NoMatch:
		m.state = types.ProvenanceUnmatched{}
	case types.FingerprintError:
		m.state = types.ProvenanceFailed{Error: r}
	default:
		m.state = types.ProvenanceFailed{Error: types.FingerprintError{
			Reason: "unrecognized fingerprint result",
			Code:   types.FingerprintAPIError,
		}}
	}
	m.mu.Unlock()

	m.notify()
	return nil
}

// Reset returns to idle, invalidating any check in flight and clearing the
// ISRC.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.token++
	m.state = types.ProvenanceIdle{}
	m.resetISRCLocked()
	m.mu.Unlock()

	m.notify()
}

// ResetISRC clears the ISRC verification and invalidates pending lookups.
func (m *Machine) ResetISRC() {
	m.mu.Lock()
	m.resetISRCLocked()
	m.mu.Unlock()

	m.notify()
}

// DetectedMatch returns the match when the state is Matched.
func (m *Machine) DetectedMatch() (types.Match, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched, ok := m.state.(types.ProvenanceMatched)
	return matched.Match, ok
}

// RequiresManualReview reports whether the check failed and the upload must
// be reviewed by a person.
func (m *Machine) RequiresManualReview() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed, ok := m.state.(types.ProvenanceFailed)
	return ok && failed.Error.RequiresManualReview()
}

// CanSubmit returns nil when the current state allows submission, or a
// provenance-blocked error carrying the first reason to show the user.
func (m *Machine) CanSubmit(attestation types.Attestation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canSubmitLocked(attestation)
}

// Guard is CanSubmit that also returns the provenance state and ISRC it
// judged. All three are read under one lock, so the record that gets written
// carries exactly what was checked.
func (m *Machine) Guard(attestation types.Attestation) (types.ProvenanceState, types.IsrcVerification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.isrc, m.canSubmitLocked(attestation)
}

func (m *Machine) canSubmitLocked(attestation types.Attestation) error {
	switch s := m.state.(type) {
	case types.ProvenanceChecking:
		return blocked("Please wait until the copyright check has finished.")

	case types.ProvenanceMatched:
		verified, ok := m.isrc.Verified()
		if !ok {
			return blocked("This recording matches a released track. Enter its ISRC to prove you own the rights.")
		}
		if detected := Normalize(s.Match.ISRC); detected != "" && verified.Recording.ISRC != detected {
			return blocked("The ISRC does not match the detected track.")
		}
		return nil

	case types.ProvenanceUnmatched:
		if attestation.CoverSong {
			verified, ok := m.isrc.Verified()
			if !ok || verified.Anchor != types.AnchorRegistry {
				return blocked("Cover songs need a verified ISRC for the original recording.")
			}
			return nil
		}
		if !attestation.OriginalWork {
			return blocked("Please confirm that this is your original work.")
		}
		return nil

	default:
		// Idle and Failed never block. Failed uploads are flagged for review.
		return nil
	}
}

func (m *Machine) resetISRCLocked() {
	m.isrcGen++
	m.isrc = types.IsrcVerification{Status: types.IsrcIdle{}}
}

// setISRC replaces the ISRC state and returns the generation that a later
// resolveISRC must present.
func (m *Machine) setISRC(code string, status types.IsrcStatus) uint64 {
	m.mu.Lock()
	m.isrcGen++
	gen := m.isrcGen
	m.isrc = types.IsrcVerification{Code: code, Status: status}
	m.mu.Unlock()

	m.notify()
	return gen
}

// resolveISRC finishes an asynchronous lookup. It reports false when the
// lookup was superseded.
func (m *Machine) resolveISRC(gen uint64, status types.IsrcStatus) bool {
	m.mu.Lock()
	if gen != m.isrcGen {
		m.mu.Unlock()
		return false
	}
	m.isrc.Status = status
	m.mu.Unlock()

	m.notify()
	return true
}

func (m *Machine) notify() {
	m.mu.Lock()
	observer := m.observer
	state := m.state
	isrc := m.isrc
	m.mu.Unlock()

	if observer != nil {
		observer(state, isrc)
	}
}

func blocked(message string) error {
	return apptypes.NewAppError(apptypes.ErrorCodeProvenanceBlock, "submission blocked by provenance check", http.StatusBadRequest).
		WithUserMessage(message)
}
