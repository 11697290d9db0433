package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/c360/streamkit"
	"github.com/c360/streamkit/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() retry.Config {
	return retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestPostSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "5", r.URL.Query().Get("$top"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(streamkit.SubscribeResponse{State: "Active", InactivityTimeout: 60})
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL, RetryCfg: fastRetryConfig()}, nil)

	top := 5
	done := make(chan struct{})
	var resp streamkit.SubscribeResponse
	var errResp *streamkit.ErrorResponse
	tr.Post(streamkit.PostRequest{ServicePath: "/svc", URL: "/stream", Top: &top, Body: map[string]any{"x": 1}}, func(r streamkit.SubscribeResponse, e *streamkit.ErrorResponse) {
		resp, errResp = r, e
		close(done)
	})
	<-done

	require.Nil(t, errResp)
	assert.Equal(t, 60, resp.InactivityTimeout)
}

func TestPostRejectedIsNotRetried(t *testing.T) {
	var attempts int32
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(streamkit.ErrorResponse{ErrorCode: "BadRequest", Message: "nope"})
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL, RetryCfg: fastRetryConfig()}, nil)

	done := make(chan struct{})
	var errResp *streamkit.ErrorResponse
	tr.Post(streamkit.PostRequest{ServicePath: "/svc", URL: "/stream", Body: map[string]any{}}, func(_ streamkit.SubscribeResponse, e *streamkit.ErrorResponse) {
		errResp = e
		close(done)
	})
	<-done

	require.NotNil(t, errResp)
	assert.Equal(t, "BadRequest", errResp.ErrorCode)
	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 1, attempts)
}

func TestPostRetriesOn5xxThenSucceeds(t *testing.T) {
	var attempts int32
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(streamkit.SubscribeResponse{InactivityTimeout: 30})
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL, RetryCfg: fastRetryConfig()}, nil)

	done := make(chan struct{})
	var resp streamkit.SubscribeResponse
	var errResp *streamkit.ErrorResponse
	tr.Post(streamkit.PostRequest{ServicePath: "/svc", URL: "/stream", Body: map[string]any{}}, func(r streamkit.SubscribeResponse, e *streamkit.ErrorResponse) {
		resp, errResp = r, e
		close(done)
	})
	<-done

	require.Nil(t, errResp)
	assert.Equal(t, 30, resp.InactivityTimeout)
	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 2, attempts)
}

func TestPostNetworkErrorIsClassified(t *testing.T) {
	tr := New(Config{BaseURL: "http://127.0.0.1:1", RetryCfg: retry.Config{MaxAttempts: 1}}, nil)

	done := make(chan struct{})
	var errResp *streamkit.ErrorResponse
	tr.Post(streamkit.PostRequest{ServicePath: "/svc", URL: "/stream", Body: map[string]any{}}, func(_ streamkit.SubscribeResponse, e *streamkit.ErrorResponse) {
		errResp = e
		close(done)
	})
	<-done

	require.NotNil(t, errResp)
	assert.True(t, errResp.IsNetworkError)
}

func TestDeleteSendsContextAndReferenceIDInPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL, RetryCfg: fastRetryConfig()}, nil)

	done := make(chan struct{})
	var errResp *streamkit.ErrorResponse
	tr.Delete(streamkit.DeleteRequest{ServicePath: "/svc", URL: "/stream", ContextID: "ctx-1", ReferenceID: "ref-1"}, func(e *streamkit.ErrorResponse) {
		errResp = e
		close(done)
	})
	<-done

	require.Nil(t, errResp)
	assert.Equal(t, "/svc/stream/ctx-1/ref-1", gotPath)
}

func TestPatchSendsBody(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL, RetryCfg: fastRetryConfig()}, nil)

	done := make(chan struct{})
	var errResp *streamkit.ErrorResponse
	tr.Patch(streamkit.PatchRequest{ServicePath: "/svc", URL: "/stream", ContextID: "ctx-1", ReferenceID: "ref-1", Body: map[string]any{"delta": 1}}, func(e *streamkit.ErrorResponse) {
		errResp = e
		close(done)
	})
	<-done

	require.Nil(t, errResp)
	assert.Equal(t, float64(1), gotBody["delta"])
}

func TestAuthTokenIsSentAsBearer(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(streamkit.SubscribeResponse{})
	}))
	defer srv.Close()

	tr := New(Config{BaseURL: srv.URL, AuthToken: "tok-123", RetryCfg: fastRetryConfig()}, nil)

	done := make(chan struct{})
	tr.Post(streamkit.PostRequest{ServicePath: "/svc", URL: "/stream", Body: map[string]any{}}, func(streamkit.SubscribeResponse, *streamkit.ErrorResponse) {
		close(done)
	})
	<-done

	assert.Equal(t, "Bearer tok-123", gotAuth)
}
