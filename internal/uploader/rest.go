package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/afyawatch/fieldsync/internal/queue"
)

// RESTClient uploads submissions to a hosted REST backend.
//
// The request shape is POST {base}/rest/v1/{table}?on_conflict=client_idempotency_key
// with the item payload plus the idempotency key as the body and a
// Prefer header requesting ignore-duplicates conflict resolution.
type RESTClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *log.Logger
}

// NewRESTClient creates a client for the given backend base URL.
//
// If logger is nil, a default logger writing to stderr is used.
func NewRESTClient(baseURL, apiKey string, logger *log.Logger) *RESTClient {
	if logger == nil {
		logger = log.New(os.Stderr, "[uploader] ", log.LstdFlags)
	}
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Upload implements Uploader.
func (c *RESTClient) Upload(ctx context.Context, typ queue.ReportType, localID string, payload map[string]any) error {
	table, err := TableFor(typ)
	if err != nil {
		return err
	}

	// Copy the payload so the caller's map is never mutated.
	row := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		row[k] = v
	}
	row[IdempotencyKeyField] = localID

	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode row: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s?on_conflict=%s",
		c.baseURL, table, url.QueryEscape(IdempotencyKeyField))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Prefer", "resolution=ignore-duplicates,return=minimal")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Printf("Uploaded %s to %s", localID, table)
		return nil
	}

	// The destination may report a duplicate key instead of silently
	// ignoring it. That is a success by contract.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusConflict || isDuplicateKeyBody(respBody) {
		c.logger.Printf("Duplicate key for %s in %s, treating as synced", localID, table)
		return nil
	}

	return fmt.Errorf("upload rejected: %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
}

// isDuplicateKeyBody detects a unique-violation error payload
// (Postgres error code 23505) in a non-409 response.
func isDuplicateKeyBody(body []byte) bool {
	return bytes.Contains(body, []byte("23505")) ||
		bytes.Contains(body, []byte("duplicate key value"))
}
