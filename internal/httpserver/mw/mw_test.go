package mw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrSnakeDoc/forest/internal/logger"
	"github.com/MrSnakeDoc/forest/internal/peer"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestAllowOnlyCIDRS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		remote  string
		status  int
	}{
		{name: "empty list passes", allowed: nil, remote: "8.8.8.8:1", status: http.StatusOK},
		{name: "inside prefix", allowed: []string{"10.0.0.0/8"}, remote: "10.2.3.4:1", status: http.StatusOK},
		{name: "outside prefix", allowed: []string{"10.0.0.0/8"}, remote: "8.8.8.8:1", status: http.StatusForbidden},
		{name: "only invalid entries pass", allowed: []string{"bogus"}, remote: "8.8.8.8:1", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := AllowOnlyCIDRS(tt.allowed, false, logger.Nop())(okHandler())
			r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			r.RemoteAddr = tt.remote
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

func TestToken(t *testing.T) {
	h := Token("s3cr3t", logger.Nop())(okHandler())

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "valid", token: "s3cr3t", status: http.StatusOK},
		{name: "missing", token: "", status: http.StatusForbidden},
		{name: "prefix of secret", token: "s3cr", status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/branch/leaf", nil)
			if tt.token != "" {
				r.Header.Set(peer.TokenHeader, tt.token)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status != http.StatusForbidden {
				return
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["result"] != "error" || body["message"] != "Not authenticated" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestValidTokenEmptySecret(t *testing.T) {
	if ValidToken("", "") {
		t.Fatal("an empty secret must never authenticate")
	}
}
