package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/listsync/listsync/internal/wire"
)

// DoFunc is the fetch-shaped HTTP hook spec.md §6 calls for as an
// environment input; http.Client.Do satisfies it directly.
type DoFunc func(*http.Request) (*http.Response, error)

// HTTPTransport is the production Transport, issuing the four sync
// endpoints over JSON.
type HTTPTransport struct {
	baseURL string
	do      DoFunc
}

// NewHTTPTransport builds a Transport against baseURL (no trailing
// slash required). A nil do defaults to http.DefaultClient.Do.
func NewHTTPTransport(baseURL string, do DoFunc) *HTTPTransport {
	if do == nil {
		do = http.DefaultClient.Do
	}
	return &HTTPTransport{baseURL: baseURL, do: do}
}

func (t *HTTPTransport) Bootstrap(ctx context.Context, clientID, datasetGenerationKey string) (wire.BootstrapResponse, error) {
	q := url.Values{"clientId": {clientID}}
	if datasetGenerationKey != "" {
		q.Set("datasetGenerationKey", datasetGenerationKey)
	}
	var out wire.BootstrapResponse
	err := t.doJSON(ctx, http.MethodGet, "/sync/bootstrap?"+q.Encode(), nil, &out)
	return out, err
}

func (t *HTTPTransport) Push(ctx context.Context, req wire.PushRequest) (wire.PushResponse, error) {
	var out wire.PushResponse
	err := t.doJSON(ctx, http.MethodPost, "/sync/push", req, &out)
	if err != nil {
		return out, err
	}
	return out, nil
}

func (t *HTTPTransport) Pull(ctx context.Context, clientID string, since int64, datasetGenerationKey string) (wire.PullResponse, error) {
	q := url.Values{
		"clientId":             {clientID},
		"since":                {strconv.FormatInt(since, 10)},
		"datasetGenerationKey": {datasetGenerationKey},
	}
	var out wire.PullResponse
	err := t.doJSON(ctx, http.MethodGet, "/sync/pull?"+q.Encode(), nil, &out)
	return out, err
}

func (t *HTTPTransport) Reset(ctx context.Context, req wire.ResetRequest) (wire.ResetResponse, error) {
	var out wire.ResetResponse
	err := t.doJSON(ctx, http.MethodPost, "/sync/reset", req, &out)
	return out, err
}

// doJSON issues one request, decoding a JSON response body into out. Any
// 409 status is reported as ErrDuplicateDedupeKey rather than a generic
// HTTP error, after still decoding whatever response payload the server
// returned (the reference server's 409 body is an ordinary PushResponse).
func (t *HTTPTransport) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("syncengine: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("syncengine: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.do(req)
	if err != nil {
		return fmt.Errorf("syncengine: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		_ = json.NewDecoder(resp.Body).Decode(out)
		return ErrDuplicateDedupeKey
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("syncengine: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("syncengine: decode response: %w", err)
	}
	return nil
}
