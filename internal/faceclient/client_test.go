package faceclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchDecodesMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["image"] == "" {
			t.Error("image field missing from request")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name": "Ana", "matched": true, "similarity": 0.97,
		})
	}))
	defer srv.Close()

	name, matched, err := New(srv.URL).Search(context.Background(), "payload")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !matched || name != "Ana" {
		t.Fatalf("got (%q, %v), want (Ana, true)", name, matched)
	}
}

func TestSearchReportsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, _, err := New(srv.URL).Search(context.Background(), "payload")
	if err == nil {
		t.Fatal("expected error from 503 response")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := New(srv.URL).Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	srv.Close()
	if err := New(srv.URL).Health(context.Background()); err == nil {
		t.Fatal("expected error after server close")
	}
}
