// Package authnjwt authenticates HTTP requests with bearer JWTs.
//
// A Module is loaded into a plugin.Host. For every request whose path matches
// the effective configuration it extracts the Authorization credential,
// dispatches it to the configured scheme and backend, and turns the outcome
// into a pipeline decision:
//
//   - accepted tokens continue, with the principal stored in the request
//     context (see auth.UserInfoFromContext)
//   - missing, malformed, oversized or invalid tokens get a 401 with
//     WWW-Authenticate: Bearer realm="<realm>", charset="UTF-8"
//   - configuration problems such as an unreadable key file get a 500
//
// Typical wiring:
//
//	mod := authnjwt.New(authnjwt.WithConfig(cfg))
//	host := plugin.NewHost(logger)
//	if err := host.Load(mod.PluginInit); err != nil { ... }
//	if err := host.Start(ctx); err != nil { ... }
//	http.ListenAndServe(addr, host.Handler(app))
package authnjwt
