package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/report"
)

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/style.css":
			w.Header().Set("Content-Type", "text/css")
			w.Write([]byte("body{}"))
		case "/moved":
			http.Redirect(w, r, "/style.css", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient()

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"ok", "/style.css", http.StatusOK, "body{}"},
		{"not found is still a response", "/missing", http.StatusNotFound, "404 page not found\n"},
		{"redirects are not followed", "/moved", http.StatusFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Get(context.Background(), srv.URL+tt.path)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.Status)
			}
			if tt.wantBody != "" && string(resp.Body) != tt.wantBody {
				t.Errorf("Expected body %q, got %q", tt.wantBody, string(resp.Body))
			}
		})
	}
}

func TestClient_FetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient().Get(context.Background(), url+"/app.js")
	if err == nil {
		t.Fatal("Expected error for closed server")
	}
	if !report.IsNetworkUnavailable(err) {
		t.Errorf("Expected NetworkUnavailable, got %v", err)
	}
}

func TestClient_FetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClientWithConfig(&Config{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := client.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if errors.GetCode(err) != errors.CodeTimeout {
		t.Errorf("Expected timeout code, got %v (%v)", errors.GetCode(err), err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Fetch took %v, expected it to be bounded by the timeout", elapsed)
	}
}
