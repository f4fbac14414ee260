package provenance

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/modules/uploadmodule/types"
)

var isrcPattern = regexp.MustCompile(`^[A-Z0-9]{2}[A-Z0-9]{3}[A-Z0-9]{2}[0-9]{5}$`)

const (
	reasonFormat    = "ISRC must be 12 characters: country (2), registrant (3), year (2) and designation (5 digits)"
	reasonMismatch  = "ISRC does not match the detected track"
	reasonNotFound  = "ISRC not found in the rights registry"
	reasonUnchecked = "ISRC could not be verified right now, please try again"
)

// Normalize strips hyphens and whitespace and upper-cases the code.
func Normalize(code string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, strings.ToUpper(code))
}

// ValidSyntax reports whether a normalized code is a well-formed ISRC.
func ValidSyntax(code string) bool {
	return isrcPattern.MatchString(code)
}

// Verifier turns ISRC keystrokes into a verification state on a Machine.
// Registry lookups are debounced; each new input stops the pending timer and
// cancels the lookup in flight.
type Verifier struct {
	machine  *Machine
	registry types.RightsRegistry
	debounce time.Duration
	timeout  time.Duration
	logger   hclog.Logger

	mu     sync.Mutex
	seq    uint64
	timer  *time.Timer
	cancel context.CancelFunc
	onDone func(code string, status types.IsrcStatus)
}

// NewVerifier creates a verifier that writes into machine.
func NewVerifier(machine *Machine, registry types.RightsRegistry, debounce, timeout time.Duration, logger hclog.Logger) *Verifier {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Verifier{
		machine:  machine,
		registry: registry,
		debounce: debounce,
		timeout:  timeout,
		logger:   logger.Named("isrc"),
	}
}

// OnLookup registers a hook called after every completed registry lookup,
// including superseded ones.
func (v *Verifier) OnLookup(fn func(code string, status types.IsrcStatus)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onDone = fn
}

// Input handles the latest value of the ISRC field. Stopping the previous
// lookup and scheduling the next happen under one lock, so at most one
// lookup is ever pending.
func (v *Verifier) Input(raw string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelLocked()

	code := Normalize(raw)
	if code == "" {
		v.machine.ResetISRC()
		return
	}
	if !ValidSyntax(code) {
		v.machine.setISRC(code, types.IsrcRejected{Reason: reasonFormat})
		return
	}

	if match, ok := v.machine.DetectedMatch(); ok {
		if detected := Normalize(match.ISRC); detected != "" {
			if detected == code {
				v.machine.setISRC(code, types.IsrcVerified{
					Recording: types.RecordingInfo{
						ISRC:   code,
						Title:  match.Title,
						Artist: match.Artist,
						Label:  match.Label,
					},
					Anchor: types.AnchorMatch,
				})
			} else {
				v.machine.setISRC(code, types.IsrcRejected{Reason: reasonMismatch})
			}
			return
		}
	}

	if v.registry == nil {
		v.machine.setISRC(code, types.IsrcRejected{Reason: reasonUnchecked})
		return
	}

	gen := v.machine.setISRC(code, types.IsrcLoading{})
	seq := v.seq
	v.timer = time.AfterFunc(v.debounce, func() { v.lookup(seq, gen, code) })
}

// Cancel stops any pending or running registry lookup. The ISRC state is
// left as it is.
func (v *Verifier) Cancel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancelLocked()
}

func (v *Verifier) cancelLocked() {
	v.seq++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

func (v *Verifier) lookup(seq, gen uint64, code string) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if v.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), v.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	v.mu.Lock()
	if seq != v.seq {
		// The timer fired while newer input was stopping it.
		v.mu.Unlock()
		return
	}
	v.cancel = cancel
	onDone := v.onDone
	v.mu.Unlock()

	var status types.IsrcStatus
	result, err := v.registry.LookupISRC(ctx, code)
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		// Superseded by newer input.
		return
	case err != nil:
		v.logger.Warn("isrc lookup failed", "isrc", code, "error", err)
		status = types.IsrcRejected{Reason: reasonUnchecked}
	case result == nil || !result.Verified:
		reason := reasonNotFound
		if result != nil && result.Reason != "" {
			reason = result.Reason
		}
		status = types.IsrcRejected{Reason: reason}
	default:
		recording := types.RecordingInfo{ISRC: code}
		if result.Recording != nil {
			recording = *result.Recording
			recording.ISRC = code
		}
		status = types.IsrcVerified{Recording: recording, Anchor: types.AnchorRegistry}
	}

	if onDone != nil {
		onDone(code, status)
	}
	if !v.machine.resolveISRC(gen, status) {
		v.logger.Debug("discarding superseded isrc lookup", "isrc", code)
	}
}
