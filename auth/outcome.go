package auth

import "fmt"

// OutcomeKind tags the result of one authentication pass.
type OutcomeKind int

const (
	// OutcomeContinue means no opinion; other handlers decide.
	OutcomeContinue OutcomeKind = iota
	// OutcomeAccepted means the credential was verified.
	OutcomeAccepted
	// OutcomeRejected means a credential was missing or failed verification.
	OutcomeRejected
	// OutcomeMisconfigured means operator configuration prevented a decision.
	OutcomeMisconfigured
	// OutcomeMalformed means the credential could not be parsed or exceeded bounds.
	OutcomeMalformed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "continue"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeMisconfigured:
		return "misconfigured"
	case OutcomeMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is produced fresh for every request and never persisted. Detail is
// meant for logs only; it must never be copied into a response.
type Outcome struct {
	Kind   OutcomeKind
	User   UserInfo
	Detail string
}

func Continue() Outcome { return Outcome{Kind: OutcomeContinue} }

// Accepted returns an outcome carrying the verified principal.
func Accepted(ui UserInfo) Outcome { return Outcome{Kind: OutcomeAccepted, User: ui} }

func Rejected(reason string) Outcome { return Outcome{Kind: OutcomeRejected, Detail: reason} }

func Misconfigured(detail string) Outcome {
	return Outcome{Kind: OutcomeMisconfigured, Detail: detail}
}

func Malformed(detail string) Outcome { return Outcome{Kind: OutcomeMalformed, Detail: detail} }

// Err returns an error describing a failed outcome, or nil for Continue and
// Accepted.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeRejected, OutcomeMalformed:
		return fmt.Errorf("%w: %s: %s", ErrUnauthorized, o.Kind, o.Detail)
	case OutcomeMisconfigured:
		return fmt.Errorf("%w: %s", ErrMisconfigured, o.Detail)
	default:
		return nil
	}
}
