package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"

	apperrors "github.com/fetchguard/fetchguard/internal/errors"
	"github.com/fetchguard/fetchguard/internal/reqstream"
)

// apiClient talks to a running fetchguard server.
type apiClient struct {
	baseURL   string
	http      *http.Client
	userAgent string
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:      &http.Client{Timeout: timeout},
		userAgent: GetAppIdentity().BinaryName + "/" + versionInfo.Version,
	}
}

// clientFromConfig builds a client from client.base_url and client.timeout.
func clientFromConfig() *apiClient {
	return newAPIClient(appConfig.Client.BaseURL, appConfig.ClientTimeout())
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// do sends a JSON request and decodes a JSON reply into out.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	if resp.StatusCode >= 300 {
		return decodeRemoteError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeRemoteError turns a server error body into an ErrorEnvelope.
func decodeRemoteError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload apperrors.HTTPErrorResponse
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error.Code == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	envelope := gferrors.NewErrorEnvelope(payload.Error.Code, payload.Error.Message).
		WithCorrelationID(payload.Error.RequestID)
	if len(payload.Error.Details) > 0 {
		envelope = envelope.WithDetails(payload.Error.Details)
	}
	return envelope
}

// tail reads the request stream and calls handle for every batch until ctx
// is cancelled, the server closes the stream, or handle returns false.
func (c *apiClient) tail(ctx context.Context, handle func(reqstream.Batch) bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/stream/requests", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any per-request timeout.
	streaming := *c.http
	streaming.Timeout = 0

	resp, err := streaming.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open request stream: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	if resp.StatusCode != http.StatusOK {
		return decodeRemoteError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}

		var batch reqstream.Batch
		if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &batch); err != nil {
			return fmt.Errorf("decode stream batch: %w", err)
		}
		if !handle(batch) {
			return nil
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read request stream: %w", err)
	}
	return nil
}
