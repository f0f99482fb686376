package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// HTTPService talks JSON to an external resolver over a single POST
// endpoint.
type HTTPService struct {
	baseURL string
	client  *http.Client
}

// NewHTTPService builds a client for the resolver at baseURL. A nil client
// uses http.DefaultClient; the orchestrator supplies per-request deadlines
// through context.
func NewHTTPService(baseURL string, client *http.Client) *HTTPService {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPService{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// Enhance posts one call site and decodes the resolver's answer. A 404 means
// the resolver knows the site and has no improvement; that is a valid empty
// result, not an error.
func (s *HTTPService) Enhance(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode enhance request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/resolve", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build enhance request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("enhance %s: %w", req.CalleeName, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return Result{}, fmt.Errorf("decode enhance response: %w", err)
		}
		return result, nil
	case http.StatusNotFound:
		return Result{}, nil
	case http.StatusServiceUnavailable:
		return Result{}, fmt.Errorf("enhance %s: %w", req.CalleeName, ErrUnavailable)
	default:
		return Result{}, fmt.Errorf("enhance %s: unexpected status %d", req.CalleeName, resp.StatusCode)
	}
}
