package eventconfig

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

func TestHTTPSourceForwardsToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]domain.EventConfig{birth})
	}))
	defer srv.Close()

	configs, err := NewHTTPSource(srv.URL, time.Second).Fetch(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(configs) != 1 || configs[0].ID != "birth" || !configs[0].Actions[0].NotificationEnabled {
		t.Fatalf("unexpected configs %+v", configs)
	}
}

func TestHTTPSourceNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewHTTPSource(srv.URL, time.Second).Fetch(context.Background(), ""); err == nil {
		t.Fatalf("expected error for 502")
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	if err := os.WriteFile(path, []byte(`[{"id":"birth","actions":[{"type":"CUSTOM","customActionType":"VERIFY_ID","requiresConfirmation":true}]}]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	configs, err := NewFileSource(path).Fetch(context.Background(), "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	ac, ok := configs[0].Action(domain.ActionCustom, "VERIFY_ID")
	if !ok || !ac.RequiresConfirmation {
		t.Fatalf("custom action not decoded: %+v", configs)
	}

	if _, err := NewFileSource(filepath.Join(t.TempDir(), "missing.json")).Fetch(context.Background(), ""); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
