package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/npezzotti/go-cloudclip/internal/auth"
)

const authQueryParam = "auth"

type TokenRequest struct {
	Secret string `json:"secret"`
}

type TokenResponse struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
}

// tokenFromRequest reads the bearer token, falling back to the auth query
// parameter browsers use for WebSocket URLs.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get(authQueryParam)
}

func (s *CloudClipApp) issueToken(w http.ResponseWriter, r *http.Request) {
	if !s.gate.Enabled() {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if req.Secret == "" {
		req.Secret = tokenFromRequest(r)
	}

	token, exp, err := s.gate.IssueToken(req.Secret, auth.DefaultTokenTTL)
	if err != nil {
		errResp := errorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	s.writeJson(w, http.StatusOK, TokenResponse{Token: token, Expires: exp.Unix()})
}
