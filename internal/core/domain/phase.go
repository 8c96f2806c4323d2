package domain

// Phase is the login state machine's current step for a browser session.
// Values are persisted; do not renumber.
type Phase int

const (
	// PhaseInitial is a session that has not interacted with an IdP yet.
	PhaseInitial Phase = 1

	// PhaseSAMLSent means an AuthnRequest redirect was issued and the
	// browser is expected back at the assertion consumer endpoint.
	PhaseSAMLSent Phase = 2

	// PhaseSAMLAuthed means an assertion for this session passed the
	// replay and phase checks and entered cryptographic validation.
	PhaseSAMLAuthed Phase = 3

	// PhaseLocalAuthed means a local session was established.
	PhaseLocalAuthed Phase = 4

	// PhaseExcluded marks a request that matched an exclusion rule.
	PhaseExcluded Phase = 5

	// PhaseForcedLogoff is entered via the logoff bypass parameter.
	PhaseForcedLogoff Phase = 6

	// PhaseTimedOut marks a login round abandoned past the retention
	// window.
	PhaseTimedOut Phase = 7

	// PhaseLoggedOff means the local session was destroyed on request.
	PhaseLoggedOff Phase = 8
)

// String returns the phase name used in logs and error messages.
func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseSAMLSent:
		return "saml_redirect_sent"
	case PhaseSAMLAuthed:
		return "saml_authenticated"
	case PhaseLocalAuthed:
		return "local_authenticated"
	case PhaseExcluded:
		return "excluded"
	case PhaseForcedLogoff:
		return "forced_logoff"
	case PhaseTimedOut:
		return "timed_out"
	case PhaseLoggedOff:
		return "logged_off"
	default:
		return "unknown"
	}
}

// legalTransitions enumerates every forward edge of the state machine.
// Anything not listed here is a protocol violation.
var legalTransitions = map[Phase][]Phase{
	PhaseInitial:      {PhaseSAMLSent, PhaseExcluded, PhaseForcedLogoff, PhaseLoggedOff},
	PhaseSAMLSent:     {PhaseSAMLAuthed, PhaseTimedOut},
	PhaseSAMLAuthed:   {PhaseLocalAuthed},
	PhaseLocalAuthed:  {PhaseLoggedOff, PhaseForcedLogoff, PhaseTimedOut},
	PhaseForcedLogoff: {PhaseInitial},
	PhaseLoggedOff:    {PhaseSAMLSent, PhaseForcedLogoff, PhaseLoggedOff},
}

// CanTransition reports whether moving from one phase to another is a
// legal edge of the state machine.
func CanTransition(from, to Phase) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
