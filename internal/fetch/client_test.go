package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetch_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	data, err := NewClient(Config{}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(data) != "ID3audio" {
		t.Errorf("Fetch() = %q", data)
	}
}

func TestFetch_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	_, err := NewClient(Config{Timeout: 50 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Fetch() error = %v, want ErrTimeout", err)
	}
	if !IsFallbackTrigger(err) {
		t.Error("timeouts should trigger the fallback branch")
	}
}

func TestFetch_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(Config{}).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Fetch() error = %v, want ErrNetwork", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Fatalf("Fetch() error = %v, want StatusError 403", err)
	}
}

func TestFetch_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	_, err := NewClient(Config{MaxBytes: 10}).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Fetch() error = %v, want ErrTooLarge", err)
	}
}

func TestDownloadVideo_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	c := NewClient(Config{Retries: 2, Backoff: time.Millisecond, TempDir: t.TempDir()})
	path, err := c.DownloadVideo(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("DownloadVideo() error = %v", err)
	}
	defer os.Remove(path)

	data, _ := os.ReadFile(path)
	if string(data) != "video-bytes" {
		t.Errorf("downloaded %q", data)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestDownloadVideo_NoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{Retries: 3, Backoff: time.Millisecond, TempDir: t.TempDir()})
	if _, err := c.DownloadVideo(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}
