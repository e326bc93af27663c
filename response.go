package authnjwt

import (
	"encoding/json"
	"net/http"

	"github.com/elnormous/contenttype"
)

var (
	jsonMediaType = contenttype.NewMediaType("application/json")
	textMediaType = contenttype.NewMediaType("text/plain")
	bodyTypes     = []contenttype.MediaType{jsonMediaType, textMediaType}
)

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// errorCode never carries request-specific detail.
func errorCode(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized"
	default:
		return "server_error"
	}
}

// writeStatus writes status with a small body in the client's preferred
// format, JSON when nothing acceptable is offered.
func writeStatus(w http.ResponseWriter, r *http.Request, status int) {
	h := w.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")

	mt, _, err := contenttype.GetAcceptableMediaType(r, bodyTypes)
	if err == nil && mt.Type == "text" {
		h.Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(http.StatusText(status) + "\n"))
		return
	}
	h.Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorCode(status), Status: status})
}
