package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Default Roblox endpoints.
const (
	DefaultRobloxAPIBase    = "https://apis.roblox.com"
	DefaultRobloxGroupsBase = "https://groups.roblox.com"
)

const datastoreEntriesPath = "/datastores/v1/universes/%d/standard-datastores/datastore/entries"

// RequestObserver receives the outcome of every outbound call.
type RequestObserver interface {
	ObserveExternalRequest(operation, status string, elapsed time.Duration)
}

// RobloxConfig configures RobloxClient.
type RobloxConfig struct {
	APIKey        string
	GroupID       int64
	APIBaseURL    string
	GroupsBaseURL string
	Timeout       time.Duration
}

// RobloxClient talks to the Roblox Open Cloud and Groups APIs.
type RobloxClient struct {
	cfg      RobloxConfig
	logger   *slog.Logger
	client   *http.Client
	observer RequestObserver
}

// NewRobloxClient creates a client. observer may be nil.
func NewRobloxClient(cfg RobloxConfig, observer RequestObserver, logger *slog.Logger) *RobloxClient {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultRobloxAPIBase
	}
	if cfg.GroupsBaseURL == "" {
		cfg.GroupsBaseURL = DefaultRobloxGroupsBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.GroupsBaseURL = strings.TrimRight(cfg.GroupsBaseURL, "/")
	return &RobloxClient{
		cfg:      cfg,
		logger:   logger,
		client:   &http.Client{Timeout: cfg.Timeout},
		observer: observer,
	}
}

// APIError is returned for any non-2xx response.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("roblox %s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// DatastoreEntryRef names one entry in a listing. Older API versions use "key".
type DatastoreEntryRef struct {
	EntryKey string `json:"entryKey"`
	Key      string `json:"key"`
}

// Name returns whichever key field is set.
func (e DatastoreEntryRef) Name() string {
	if e.EntryKey != "" {
		return e.EntryKey
	}
	return e.Key
}

// DatastoreListing is one page of datastore keys.
type DatastoreListing struct {
	Entries        []DatastoreEntryRef `json:"entries"`
	NextPageCursor string              `json:"nextPageCursor"`
	NextCursor     string              `json:"nextCursor"`
}

// Cursor returns the continuation token for the next page, or "" at the end.
func (l *DatastoreListing) Cursor() string {
	if l.NextPageCursor != "" {
		return l.NextPageCursor
	}
	return l.NextCursor
}

// ListEntriesParams selects a page of datastore keys.
type ListEntriesParams struct {
	UniverseID    int64
	DatastoreName string
	Scope         string
	Prefix        string
	Limit         int
	Cursor        string
}

// EntryParams addresses a single datastore entry.
type EntryParams struct {
	UniverseID    int64
	DatastoreName string
	Scope         string
	Key           string
}

func (p EntryParams) query() url.Values {
	q := url.Values{}
	q.Set("datastoreName", p.DatastoreName)
	q.Set("scope", scopeOrDefault(p.Scope))
	q.Set("entryKey", p.Key)
	return q
}

func scopeOrDefault(scope string) string {
	if scope == "" {
		return "global"
	}
	return scope
}

// UpdateGroupRole moves a user to roleID within the configured group.
func (c *RobloxClient) UpdateGroupRole(ctx context.Context, userID, roleID int64) error {
	endpoint := fmt.Sprintf("%s/v1/groups/%d/users/%d", c.cfg.GroupsBaseURL, c.cfg.GroupID, userID)
	if _, err := c.do(ctx, "update_group_role", http.MethodPatch, endpoint, map[string]int64{"roleId": roleID}); err != nil {
		return err
	}
	c.logger.Info("group role updated", "user_id", userID, "role_id", roleID, "group_id", c.cfg.GroupID)
	return nil
}

// ListDatastoreEntries returns one page of entry keys.
func (c *RobloxClient) ListDatastoreEntries(ctx context.Context, p ListEntriesParams) (*DatastoreListing, error) {
	q := url.Values{}
	q.Set("datastoreName", p.DatastoreName)
	q.Set("scope", scopeOrDefault(p.Scope))
	if p.Prefix != "" {
		q.Set("prefix", p.Prefix)
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Cursor != "" {
		q.Set("cursor", p.Cursor)
	}
	endpoint := c.cfg.APIBaseURL + fmt.Sprintf(datastoreEntriesPath, p.UniverseID) + "?" + q.Encode()

	body, err := c.do(ctx, "list_datastore_entries", http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var listing DatastoreListing
	if len(body) > 0 {
		if err := json.Unmarshal(body, &listing); err != nil {
			return nil, fmt.Errorf("decode datastore listing: %w", err)
		}
	}
	return &listing, nil
}

// ReadDatastoreEntry returns the raw JSON value stored under the key.
func (c *RobloxClient) ReadDatastoreEntry(ctx context.Context, p EntryParams) (json.RawMessage, error) {
	endpoint := c.cfg.APIBaseURL + fmt.Sprintf(datastoreEntriesPath, p.UniverseID) + "/entry?" + p.query().Encode()
	return c.do(ctx, "read_datastore_entry", http.MethodGet, endpoint, nil)
}

// WriteDatastoreEntry stores value as JSON under the key.
func (c *RobloxClient) WriteDatastoreEntry(ctx context.Context, p EntryParams, value any) error {
	endpoint := c.cfg.APIBaseURL + fmt.Sprintf(datastoreEntriesPath, p.UniverseID) + "/entry?" + p.query().Encode()
	_, err := c.do(ctx, "write_datastore_entry", http.MethodPost, endpoint, value)
	return err
}

func (c *RobloxClient) do(ctx context.Context, operation, method, endpoint string, payload any) (json.RawMessage, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", operation, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.observe(operation, "error", start)
		return nil, fmt.Errorf("roblox %s: %w", operation, err)
	}
	defer resp.Body.Close()
	c.observe(operation, strconv.Itoa(resp.StatusCode), start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Operation: operation, StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}

func (c *RobloxClient) observe(operation, status string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveExternalRequest(operation, status, time.Since(start))
	}
}
