// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/gzip"

	"github.com/cardinalhq/logrunner/internal/logctx"
)

// BulkResponse is the subset of the bulk API response we act on.
type BulkResponse struct {
	Errors bool       `json:"errors"`
	Items  []BulkItem `json:"items"`
}

// BulkItem is one per-action result. The bulk API keys each item by its
// action verb; we only issue creates.
type BulkItem struct {
	Create BulkItemDetail `json:"create"`
}

type BulkItemDetail struct {
	Status int            `json:"status"`
	Error  *BulkItemError `json:"error,omitempty"`
}

type BulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// BulkClient posts NDJSON payloads to the bulk ingestion endpoint.
// Transport failures and 5xx responses are retried with exponential
// backoff until the context gives out; 4xx responses are not retried.
type BulkClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
	maxTries uint
}

// ClientOption configures a BulkClient.
type ClientOption func(*BulkClient)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(b *BulkClient) { b.http = c }
}

// WithMaxTries bounds transport-level retries per bulk request.
func WithMaxTries(n uint) ClientOption {
	return func(b *BulkClient) { b.maxTries = n }
}

func NewBulkClient(endpoint, apiKey string, opts ...ClientOption) *BulkClient {
	c := &BulkClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 90 * time.Second},
		maxTries: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bulk sends one NDJSON payload and returns the parsed response.
func (c *BulkClient) Bulk(ctx context.Context, payload []byte) (*BulkResponse, error) {
	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compress bulk payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress bulk payload: %w", err)
	}
	body := compressed.Bytes()

	operation := func() (*BulkResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/_bulk", bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-ndjson")
		req.Header.Set("Content-Encoding", "gzip")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "ApiKey "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read bulk response: %w", err)
		}

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			logctx.FromContext(ctx).Warn("bulk request rejected, will retry",
				"status", resp.StatusCode)
			return nil, fmt.Errorf("bulk endpoint returned %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return nil, backoff.Permanent(fmt.Errorf("bulk endpoint returned %d: %s", resp.StatusCode, truncate(raw, 512)))
		}

		var parsed BulkResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("parse bulk response: %w", err))
		}
		return &parsed, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
