package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://localhost:8080/"})

	if client.maxRetries != 2 {
		t.Errorf("default maxRetries = %d, want 2", client.maxRetries)
	}
	if client.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %s, want trailing slash trimmed", client.baseURL)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", client.httpClient.Timeout)
	}

	noRetry := NewClient(ClientConfig{MaxRetries: -1})
	if noRetry.maxRetries != 0 {
		t.Errorf("maxRetries = %d, want 0", noRetry.maxRetries)
	}
}

func TestClient_GetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/public/42" {
			t.Errorf("Path = %s, want /public/42", r.URL.Path)
		}
		if ua := r.Header.Get("User-Agent"); ua != "draw-auditor" {
			t.Errorf("User-Agent = %s", ua)
		}
		json.NewEncoder(w).Encode(map[string]int{"round": 42})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL})
	var out map[string]int
	if err := client.GetJSON(context.Background(), "/public/42", &out); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if out["round"] != 42 {
		t.Errorf("round = %d, want 42", out["round"])
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, MaxRetries: 2, Backoff: time.Millisecond})
	body, err := client.GetBytes(context.Background(), "/")
	if err != nil {
		t.Fatalf("GetBytes() error = %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no such round"))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, Backoff: time.Millisecond})
	_, err := client.GetBytes(context.Background(), "/")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusNotFound || se.Body != "no such round" {
		t.Errorf("StatusError = %+v", se)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(ClientConfig{BaseURL: server.URL, Backoff: time.Millisecond})
	if _, err := client.Get(ctx, "/"); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestDecodeResponse_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("http.Get() error = %v", err)
	}

	err = DecodeResponse(resp, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		t.Errorf("DecodeResponse() error = %v, want 400 StatusError", err)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	body, truncated, err := ReadAllWithLimit(strings.NewReader("abcdef"), 4)
	if err != nil || !truncated || string(body) != "abcd" {
		t.Errorf("ReadAllWithLimit() = %q, %v, %v", body, truncated, err)
	}

	if _, err := ReadAllStrict(strings.NewReader("abcdef"), 4); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("ReadAllStrict() error = %v, want ErrBodyTooLarge", err)
	}
	if body, err := ReadAllStrict(strings.NewReader("abcd"), 4); err != nil || string(body) != "abcd" {
		t.Errorf("ReadAllStrict() = %q, %v", body, err)
	}
}

func TestWriteErrorResponse(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/draws/1/audit", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()

	WriteErrorResponse(rec, req, http.StatusConflict, "commit_mismatch", "secret mismatch", map[string]interface{}{"draw_id": 1})

	if rec.Code != http.StatusConflict {
		t.Errorf("Status code = %d, want 409", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Code != "commit_mismatch" || resp.RequestID != "req-1" {
		t.Errorf("response = %+v", resp)
	}
}
