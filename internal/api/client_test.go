package api

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rescale/csvup/internal/config"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	cfg := config.NewConfig()
	cfg.ExistsURL = url
	cfg.AccessKey = "key-123"
	cfg.ProxyMode = "no-proxy"
	c, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

// TestNewClientRejectsEmptyURL verifies a client is never built without an endpoint.
func TestNewClientRejectsEmptyURL(t *testing.T) {
	cfg := config.NewConfig()
	cfg.ExistsURL = ""
	if _, err := NewClient(cfg, nil); !errors.Is(err, config.ErrMissingExistsURL) {
		t.Fatalf("NewClient() error = %v, want ErrMissingExistsURL", err)
	}
}

// TestFileExistsSendsQuery verifies the query parameters and the decoded answer.
func TestFileExistsSendsQuery(t *testing.T) {
	var gotKey, gotName, gotMethod string
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotMethod = r.Method
		gotKey = r.URL.Query().Get("access_key")
		gotName = r.URL.Query().Get("file_name")
		fmt.Fprint(w, `{"exists": true}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/file-exists")
	exists, err := c.FileExists(context.Background(), "sales report.csv")
	if err != nil {
		t.Fatalf("FileExists() error = %v", err)
	}
	if !exists {
		t.Error("FileExists() = false, want true")
	}
	if gotMethod != nethttp.MethodGet || gotKey != "key-123" || gotName != "sales report.csv" {
		t.Errorf("request = %s key=%q name=%q", gotMethod, gotKey, gotName)
	}
}

func TestFileExistsFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"server error", nethttp.StatusInternalServerError, "boom", 500},
		{"not found", nethttp.StatusNotFound, "", 404},
		{"bad json", nethttp.StatusOK, "not json", 200},
		{"missing field", nethttp.StatusOK, `{"other": 1}`, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			_, err := c.FileExists(context.Background(), "a.csv")

			var netErr *NetworkError
			if !errors.As(err, &netErr) {
				t.Fatalf("error = %v, want *NetworkError", err)
			}
			if netErr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", netErr.StatusCode, tt.wantStatus)
			}
			if n := atomic.LoadInt32(&calls); n != 1 {
				t.Errorf("server called %d times, want exactly 1 (no retries)", n)
			}
		})
	}
}

// TestFileExistsTransportFailure verifies an unreachable endpoint is a NetworkError without status.
func TestFileExistsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	_, err := c.FileExists(context.Background(), "a.csv")

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %v, want *NetworkError", err)
	}
	if netErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", netErr.StatusCode)
	}
}

func TestFileExistsEmptyName(t *testing.T) {
	c := newTestClient(t, "http://localhost:1/file-exists")
	if _, err := c.FileExists(context.Background(), ""); !errors.Is(err, ErrEmptyFileName) {
		t.Errorf("error = %v, want ErrEmptyFileName", err)
	}
}

func TestFileExistsCancelledContext(t *testing.T) {
	c := newTestClient(t, "http://localhost:1/file-exists")
	// Drain the bucket so the limiter has to wait on the cancelled context.
	for c.limiter.Allow() {
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FileExists(ctx, "a.csv")
	if !IsNetworkError(err) || !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want NetworkError wrapping context.Canceled", err)
	}
}
