package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestUpdateFetchesMissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote content"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	d := New()
	if err := d.Update(context.Background(), srv.URL, dest); err != nil {
		t.Fatalf("Update: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "remote content" {
		t.Errorf("fetched content = %q, want %q", data, "remote content")
	}
}

func TestUpdateErrorsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	d := New()
	if err := d.Update(context.Background(), srv.URL, dest); err == nil {
		t.Error("Update against a 404 returned nil error, want failure")
	}
}

func TestHeadReturnsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
	}))
	defer srv.Close()

	d := New()
	headers, err := d.Head(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if headers["X-Test"] != "yes" {
		t.Errorf("headers[X-Test] = %q, want %q", headers["X-Test"], "yes")
	}
}
