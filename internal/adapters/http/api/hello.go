package api

import "net/http"

// helloResponse is the liveness greeting body.
type helloResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// HelloHandler answers the connectivity check.
type HelloHandler struct{}

// NewHelloHandler creates a new hello handler.
func NewHelloHandler() *HelloHandler {
	return &HelloHandler{}
}

// HandleHello handles GET /api/hello_world requests.
func (h *HelloHandler) HandleHello(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, helloResponse{OK: true, Message: "Hello World!"})
}
