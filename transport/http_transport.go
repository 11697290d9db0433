// Package transport implements streamkit.Transport over plain HTTP:
// POST to subscribe, DELETE to unsubscribe, PATCH to modify in place,
// each with exponential-backoff retry and network-error
// classification.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/c360/streamkit"
	"github.com/c360/streamkit/errors"
	"github.com/c360/streamkit/metric"
	"github.com/c360/streamkit/pkg/retry"
)

// Config configures an HTTPTransport.
type Config struct {
	BaseURL    string
	AuthToken  string
	Timeout    time.Duration
	RetryCfg   retry.Config
	HTTPClient *http.Client
}

// HTTPTransport implements streamkit.Transport by issuing HTTP
// requests against a base URL, one goroutine per call. Each call's
// completion callback fires on that goroutine; callers relying on
// streamkit's single-threaded Subscription model must set
// Subscription.Runner to marshal it back onto their own serialized
// loop (see streamkit's package docs).
type HTTPTransport struct {
	baseURL   string
	authToken string
	client    *http.Client
	retryCfg  retry.Config
	metrics   *metric.Metrics
}

var _ streamkit.Transport = (*HTTPTransport)(nil)

// New builds an HTTPTransport from cfg, filling in a default HTTP
// client and retry configuration when unset.
func New(cfg Config, metrics *metric.Metrics) *HTTPTransport {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	retryCfg := cfg.RetryCfg
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}
	return &HTTPTransport{
		baseURL:   cfg.BaseURL,
		authToken: cfg.AuthToken,
		client:    client,
		retryCfg:  retryCfg,
		metrics:   metrics,
	}
}

func (t *HTTPTransport) buildURL(servicePath, path string, top *int) string {
	u := t.baseURL + servicePath + path
	if top != nil {
		q := url.Values{}
		q.Set("$top", strconv.Itoa(*top))
		u += "?" + q.Encode()
	}
	return u
}

func (t *HTTPTransport) newRequest(ctx context.Context, method, fullURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}
	return req, nil
}

// classify turns a transport-level send failure into an ErrorResponse
// flagged as a network error; a non-nil *http.Response always takes
// the non-network branch below instead.
func classify(err error) *streamkit.ErrorResponse {
	return &streamkit.ErrorResponse{
		IsNetworkError: true,
		ErrorCode:      "NetworkError",
		Message:        err.Error(),
	}
}

func decodeErrorBody(resp *http.Response) *streamkit.ErrorResponse {
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()
	var body streamkit.ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if body.ErrorCode == "" {
		body.ErrorCode = strconv.Itoa(resp.StatusCode)
	}
	if body.Message == "" {
		body.Message = resp.Status
	}
	return &body
}

// Post issues the subscribe call. req.Top, if set, is appended as a
// "$top" query parameter rather than sent in the body.
func (t *HTTPTransport) Post(req streamkit.PostRequest, callback func(streamkit.SubscribeResponse, *streamkit.ErrorResponse)) {
	go func() {
		start := time.Now()
		payload, err := json.Marshal(req.Body)
		if err != nil {
			callback(streamkit.SubscribeResponse{}, &streamkit.ErrorResponse{ErrorCode: "EncodeError", Message: err.Error()})
			return
		}

		fullURL := t.buildURL(req.ServicePath, req.URL, req.Top)

		var parsed streamkit.SubscribeResponse
		var failure *streamkit.ErrorResponse

		retryErr := retry.Do(context.Background(), t.retryCfg, func() error {
			httpReq, buildErr := t.newRequest(context.Background(), http.MethodPost, fullURL, bytes.NewReader(payload))
			if buildErr != nil {
				return retry.NonRetryable(buildErr)
			}
			resp, sendErr := t.client.Do(httpReq)
			if sendErr != nil {
				failure = classify(sendErr)
				return sendErr
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				failure = decodeErrorBody(resp)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return retry.NonRetryable(fmt.Errorf("subscribe rejected: %s", failure.Message))
				}
				return fmt.Errorf("subscribe failed: %s", failure.Message)
			}
			defer resp.Body.Close()
			failure = nil
			return json.NewDecoder(resp.Body).Decode(&parsed)
		})

		t.recordRequest("POST", start, retryErr)
		if retryErr != nil && failure == nil {
			failure = &streamkit.ErrorResponse{ErrorCode: "DecodeError", Message: retryErr.Error()}
		}
		callback(parsed, failure)
	}()
}

// Delete issues the unsubscribe call.
func (t *HTTPTransport) Delete(req streamkit.DeleteRequest, callback func(*streamkit.ErrorResponse)) {
	go func() {
		start := time.Now()
		path := fmt.Sprintf("%s/%s/%s", req.URL, req.ContextID, req.ReferenceID)
		fullURL := t.buildURL(req.ServicePath, path, nil)

		var failure *streamkit.ErrorResponse
		retryErr := retry.Do(context.Background(), t.retryCfg, func() error {
			httpReq, buildErr := t.newRequest(context.Background(), http.MethodDelete, fullURL, nil)
			if buildErr != nil {
				return retry.NonRetryable(buildErr)
			}
			resp, sendErr := t.client.Do(httpReq)
			if sendErr != nil {
				failure = classify(sendErr)
				return sendErr
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				failure = decodeErrorBody(resp)
				return nil // a failed unsubscribe is treated as terminal, not retried
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			failure = nil
			return nil
		})
		if retryErr != nil && failure == nil {
			failure = classify(retryErr)
		}
		t.recordRequest("DELETE", start, retryErr)
		callback(failure)
	}()
}

// Patch issues the modify-in-place call.
func (t *HTTPTransport) Patch(req streamkit.PatchRequest, callback func(*streamkit.ErrorResponse)) {
	go func() {
		start := time.Now()
		payload, err := json.Marshal(req.Body)
		if err != nil {
			callback(&streamkit.ErrorResponse{ErrorCode: "EncodeError", Message: err.Error()})
			return
		}
		path := fmt.Sprintf("%s/%s/%s", req.URL, req.ContextID, req.ReferenceID)
		fullURL := t.buildURL(req.ServicePath, path, nil)

		var failure *streamkit.ErrorResponse
		retryErr := retry.Do(context.Background(), t.retryCfg, func() error {
			httpReq, buildErr := t.newRequest(context.Background(), http.MethodPatch, fullURL, bytes.NewReader(payload))
			if buildErr != nil {
				return retry.NonRetryable(buildErr)
			}
			resp, sendErr := t.client.Do(httpReq)
			if sendErr != nil {
				failure = classify(sendErr)
				return sendErr
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				failure = decodeErrorBody(resp)
				return nil
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			failure = nil
			return nil
		})
		if retryErr != nil && failure == nil {
			failure = classify(retryErr)
		}
		t.recordRequest("PATCH", start, retryErr)
		callback(failure)
	}()
}

func (t *HTTPTransport) recordRequest(method string, start time.Time, err error) {
	if t.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		t.metrics.RecordTransportError(method, classifyErrorKind(err))
	}
	t.metrics.RecordTransportRequest(method, status, time.Since(start))
}

func classifyErrorKind(err error) string {
	if retry.IsNonRetryable(err) {
		return "rejected"
	}
	return "transient"
}

// WrapConfigError surfaces a misconfigured transport (e.g. empty
// BaseURL) the way the rest of the module reports setup failures.
func WrapConfigError(field string) error {
	return errors.WrapInvalid(fmt.Errorf("missing required field %q", field), "transport", "New", "validate config")
}
