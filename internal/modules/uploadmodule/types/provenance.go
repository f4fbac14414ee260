package types

// ProvenanceState is one of ProvenanceIdle, ProvenanceChecking,
// ProvenanceMatched, ProvenanceUnmatched or ProvenanceFailed.
type ProvenanceState interface {
	provenanceState()
	Name() string
}

type ProvenanceIdle struct{}

type ProvenanceChecking struct{}

type ProvenanceMatched struct {
	Match Match `json:"match"`
}

type ProvenanceUnmatched struct{}

type ProvenanceFailed struct {
	Error FingerprintError `json:"error"`
}

func (ProvenanceIdle) provenanceState()      {}
func (ProvenanceChecking) provenanceState()  {}
func (ProvenanceMatched) provenanceState()   {}
func (ProvenanceUnmatched) provenanceState() {}
func (ProvenanceFailed) provenanceState()    {}

func (ProvenanceIdle) Name() string      { return "idle" }
func (ProvenanceChecking) Name() string  { return "checking" }
func (ProvenanceMatched) Name() string   { return "matched" }
func (ProvenanceUnmatched) Name() string { return "unmatched" }
func (ProvenanceFailed) Name() string    { return "failed" }

// ProvenanceView is the JSON shape of a provenance state.
type ProvenanceView struct {
	Status string            `json:"status"`
	Match  *Match            `json:"match,omitempty"`
	Error  *FingerprintError `json:"error,omitempty"`
}

// ViewProvenance flattens a state for the wire.
func ViewProvenance(state ProvenanceState) ProvenanceView {
	if state == nil {
		state = ProvenanceIdle{}
	}
	view := ProvenanceView{Status: state.Name()}
	switch s := state.(type) {
	case ProvenanceMatched:
		match := s.Match
		view.Match = &match
	case ProvenanceFailed:
		fpErr := s.Error
		view.Error = &fpErr
	}
	return view
}
