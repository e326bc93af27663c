// Package auth provides the scheme/backend dispatch and outcome translation
// used by the bearer authentication pipeline.
//
// A Scheme decides how a credential is transported (for example "bearer":
// the Authorization header). A Backend decides how it is checked (for
// example "jwt": a signature against a key file). The Registry maps names to
// both so that any scheme can be paired with any backend that offers the
// capability the scheme needs, without either side importing the other.
//
// # Outcomes
//
// Every pass produces one Outcome:
//
//   - Continue: no opinion; the pipeline proceeds.
//   - Accepted: the credential verified; the pipeline proceeds with UserInfo.
//   - Rejected / Malformed: client error, answered with 401 and a Bearer challenge.
//   - Misconfigured: operator error, answered with 500.
//
// Translate turns an Outcome into a Directive. Outcome details are intended
// for logs; the challenge never carries them.
//
// Example:
//
//	reg := auth.NewRegistry()
//	reg.MustRegisterScheme("bearer", bearer.New())
//	reg.MustRegisterBackend("jwt", backend)
//
//	out := reg.Dispatch(ctx, r, auth.Requirement{Scheme: "bearer", Backend: "jwt", Realm: "api"})
//	d := auth.Translate(out, "api")
//	if d.Action != auth.ActionContinue { /* write d.Challenge */ }
package auth
