package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// DefaultRealm is advertised when the effective configuration has no realm.
const DefaultRealm = "Restricted"

// AuthenticationChallenge describes an HTTP challenge (status + WWW-Authenticate header).
type AuthenticationChallenge struct {
	Status          int
	WWWAuthenticate string
}

// Action is what the surrounding pipeline must do after an authentication pass.
type Action int

const (
	// ActionContinue lets the pipeline proceed to the next handler.
	ActionContinue Action = iota
	// ActionFinished ends processing; the challenge status and header are sent.
	ActionFinished
	// ActionError ends processing with a server error.
	ActionError
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionFinished:
		return "finished"
	case ActionError:
		return "error"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Directive is the terminal state of one pass through the translator.
type Directive struct {
	Action Action
	// Challenge is nil for ActionContinue.
	Challenge *AuthenticationChallenge
	// User is set when the outcome was Accepted.
	User UserInfo
}

// Translate maps an outcome to a pipeline directive. Client-side failures
// become 401 with a Bearer challenge; configuration failures become 500
// without one. Every call is a single pass with no retry.
func Translate(o Outcome, realm string) Directive {
	switch o.Kind {
	case OutcomeContinue:
		return Directive{Action: ActionContinue}
	case OutcomeAccepted:
		return Directive{Action: ActionContinue, User: o.User}
	case OutcomeRejected, OutcomeMalformed:
		return Directive{
			Action: ActionFinished,
			Challenge: &AuthenticationChallenge{
				Status:          http.StatusUnauthorized,
				WWWAuthenticate: BuildBearerChallenge(realm),
			},
		}
	default:
		// Misconfigured and anything unknown fail closed.
		return Directive{
			Action:    ActionError,
			Challenge: &AuthenticationChallenge{Status: http.StatusInternalServerError},
		}
	}
}

// BuildBearerChallenge formats the WWW-Authenticate value sent with a 401:
//
//	Bearer realm="<realm>", charset="UTF-8"
func BuildBearerChallenge(realm string) string {
	return fmt.Sprintf(`Bearer realm="%s", charset="UTF-8"`, quoteRealm(realm))
}

var realmEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// quoteRealm escapes realm for use inside a quoted-string, dropping control
// characters. A realm that ends up empty falls back to DefaultRealm.
func quoteRealm(realm string) string {
	realm = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, realm)
	realm = strings.TrimSpace(realm)
	if realm == "" {
		realm = DefaultRealm
	}
	return realmEscaper.Replace(realm)
}
