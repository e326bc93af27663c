package authtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// OIDCServer serves OpenID discovery metadata and a JWKS.
type OIDCServer struct {
	srv  *httptest.Server
	jwks []byte
}

// NewOIDCServer starts a discovery server publishing jwks. The server is
// closed when the test ends.
func NewOIDCServer(t testing.TB, jwks []byte) *OIDCServer {
	t.Helper()
	o := &OIDCServer{jwks: jwks}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   o.Issuer(),
			"jwks_uri":                 o.JWKSURL(),
			"authorization_endpoint":   o.Issuer() + "/oauth2/auth",
			"token_endpoint":           o.Issuer() + "/oauth2/token",
			"response_types_supported": []string{"code"},
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(o.jwks)
	})
	o.srv = httptest.NewServer(mux)
	t.Cleanup(o.srv.Close)
	return o
}

// Issuer is the server base URL, used as the "iss" claim.
func (o *OIDCServer) Issuer() string { return o.srv.URL }

// JWKSURL is where the key set is published.
func (o *OIDCServer) JWKSURL() string { return o.srv.URL + "/keys" }
