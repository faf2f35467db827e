package discordgw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCreateMessage(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody createMessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(messageResponse{ID: "msg42", ChannelID: "chan1"})
	}))
	defer srv.Close()

	c := NewRestClient("tok123", WithBaseURL(srv.URL), WithTimeout(2*time.Second))
	id, err := c.CreateMessage(context.Background(), "chan1", "hello")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if id != "msg42" {
		t.Fatalf("id = %q", id)
	}
	if gotAuth != "Bot tok123" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotPath != "/channels/chan1/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody.Content != "hello" {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestEditMessage(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(messageResponse{ID: "m1"})
	}))
	defer srv.Close()

	c := NewRestClient("tok", WithBaseURL(srv.URL))
	if err := c.EditMessage(context.Background(), "chan1", "m1", "updated"); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if gotMethod != http.MethodPatch || gotPath != "/channels/chan1/messages/m1" {
		t.Fatalf("got %s %s", gotMethod, gotPath)
	}
}

func TestRateLimitedThenRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(rateLimitResponse{RetryAfter: 0.01})
			return
		}
		_ = json.NewEncoder(w).Encode(messageResponse{ID: "m2"})
	}))
	defer srv.Close()

	c := NewRestClient("tok", WithBaseURL(srv.URL), WithRetry(3))
	id, err := c.CreateMessage(context.Background(), "c", "x")
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if id != "m2" || calls.Load() != 2 {
		t.Fatalf("id=%q calls=%d", id, calls.Load())
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewRestClient("tok", WithBaseURL(srv.URL), WithRetry(3))
	if _, err := c.CreateMessage(context.Background(), "c", "x"); err == nil {
		t.Fatalf("expected error on 403")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, calls=%d", calls.Load())
	}
}

func TestServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(messageResponse{ID: "m3"})
	}))
	defer srv.Close()

	c := NewRestClient("tok", WithBaseURL(srv.URL), WithRetry(3))
	id, err := c.CreateMessage(context.Background(), "c", "x")
	if err != nil || id != "m3" {
		t.Fatalf("id=%q err=%v", id, err)
	}
}
