// Package gist implements the remote blob client on top of a GitHub Gist.
//
// The backup lives in a single secret gist, located by its description.
// The gist id is cached after the first successful lookup so steady-state
// cycles cost one GET and one PATCH; the cache is invalidated on logout
// and on a confirmed not-found after a prior hit (the gist may have been
// deleted from another device).
package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/convosync/convosync/internal/blob"
	"github.com/convosync/convosync/internal/model"
)

const (
	// DefaultAPIBase is the GitHub REST endpoint.
	DefaultAPIBase = "https://api.github.com"

	// DefaultDescription is the lookup key distinguishing the backup
	// gist from the user's other gists.
	DefaultDescription = "convosync conversation backup"

	// DefaultFilename is the single file inside the backup gist.
	DefaultFilename = "convosync-backup.json"

	// DefaultTimeout bounds each HTTP request. A hung call surfaces as
	// a network error and drives the orchestrator offline instead of
	// stalling a cycle forever.
	DefaultTimeout = 30 * time.Second

	listPageSize = 100
)

// Config holds gist client configuration.
type Config struct {
	// APIBase overrides the GitHub endpoint, for tests.
	APIBase string

	// Description is the gist lookup key.
	Description string

	// Filename is the backup file name inside the gist.
	Filename string

	// OwnerTag must match the snapshot's extensionId exactly on read.
	OwnerTag string

	// TokenPath is where the personal access token is persisted (0600).
	TokenPath string

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// Logger for client activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// Client talks to the GitHub Gist API. It implements blob.Client.
type Client struct {
	http        *http.Client
	apiBase     string
	description string
	filename    string
	ownerTag    string
	tokenPath   string
	logger      *log.Logger

	mu     sync.Mutex
	token  string
	gistID string // cached object id, "" when not yet located
}

// New creates a gist client and loads any previously stored credential.
// A missing credential file is not an error; the client simply starts
// unauthenticated.
func New(cfg Config) (*Client, error) {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Description == "" {
		cfg.Description = DefaultDescription
	}
	if cfg.Filename == "" {
		cfg.Filename = DefaultFilename
	}
	if cfg.OwnerTag == "" {
		cfg.OwnerTag = model.DefaultOwnerTag
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[gist] ", log.LstdFlags)
	}
	if cfg.TokenPath == "" {
		return nil, fmt.Errorf("token path is required")
	}

	c := &Client{
		http:        &http.Client{Timeout: cfg.Timeout},
		apiBase:     strings.TrimRight(cfg.APIBase, "/"),
		description: cfg.Description,
		filename:    cfg.Filename,
		ownerTag:    cfg.OwnerTag,
		tokenPath:   cfg.TokenPath,
		logger:      cfg.Logger,
	}

	token, err := loadToken(cfg.TokenPath)
	if err != nil {
		return nil, err
	}
	c.token = token
	return c, nil
}

// IsAuthenticated implements blob.Client.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

// Login validates the token against the API before persisting it.
func (c *Client) Login(ctx context.Context, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return blob.NewError(blob.KindConfigMissing, "login", fmt.Errorf("empty credential"))
	}

	// Validate before persisting anything.
	resp, err := c.do(ctx, credential, http.MethodGet, "/user", nil)
	if err != nil {
		return classifyTransport("login", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return classifyStatus("login", resp)
	}

	if err := saveToken(c.tokenPath, credential); err != nil {
		return err
	}

	c.mu.Lock()
	c.token = credential
	c.mu.Unlock()
	c.logger.Printf("Logged in, credential stored at %s", c.tokenPath)
	return nil
}

// Logout discards the stored credential and the cached gist id.
func (c *Client) Logout() error {
	c.mu.Lock()
	c.token = ""
	c.gistID = ""
	c.mu.Unlock()

	if err := os.Remove(c.tokenPath); err != nil && !os.IsNotExist(err) {
		return blob.NewError(blob.KindStorage, "logout", err)
	}
	c.logger.Printf("Logged out")
	return nil
}

// InvalidateCache drops the cached gist id, forcing the next operation to
// repeat the find-by-description search.
func (c *Client) InvalidateCache() {
	c.mu.Lock()
	c.gistID = ""
	c.mu.Unlock()
}

// Pull implements blob.Client.
func (c *Client) Pull(ctx context.Context) (*model.Snapshot, error) {
	token, err := c.requireToken("pull")
	if err != nil {
		return nil, err
	}

	id, found, err := c.locate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !found {
		c.logger.Printf("No backup gist found, starting from empty snapshot")
		return model.EmptySnapshot(c.ownerTag), nil
	}

	content, err := c.readContent(ctx, token, id)
	if err != nil {
		if blob.IsKind(err, blob.KindNotFound) {
			// The gist disappeared between lookup and read; drop the
			// stale cache and report an empty remote.
			c.InvalidateCache()
			return model.EmptySnapshot(c.ownerTag), nil
		}
		return nil, err
	}

	snap, err := model.ParseSnapshot(content, c.ownerTag)
	if err != nil {
		return nil, blob.NewError(blob.KindParse, "pull", err)
	}
	return snap, nil
}

// Push implements blob.Client.
func (c *Client) Push(ctx context.Context, snap *model.Snapshot) error {
	token, err := c.requireToken("push")
	if err != nil {
		return err
	}

	body, err := snap.Marshal()
	if err != nil {
		return blob.NewError(blob.KindUnknown, "push", err)
	}

	id, found, err := c.locate(ctx, token)
	if err != nil {
		return err
	}
	if !found {
		return c.create(ctx, token, body)
	}

	if err := c.update(ctx, token, id, body); err != nil {
		if blob.IsKind(err, blob.KindNotFound) {
			// Deleted externally after we cached the id. Recreate.
			c.InvalidateCache()
			return c.create(ctx, token, body)
		}
		return err
	}
	return nil
}

// locate returns the backup gist id, using the cache when warm.
func (c *Client) locate(ctx context.Context, token string) (string, bool, error) {
	c.mu.Lock()
	cached := c.gistID
	c.mu.Unlock()
	if cached != "" {
		return cached, true, nil
	}

	for page := 1; ; page++ {
		path := fmt.Sprintf("/gists?per_page=%d&page=%d", listPageSize, page)
		resp, err := c.do(ctx, token, http.MethodGet, path, nil)
		if err != nil {
			return "", false, classifyTransport("pull", err)
		}
		if resp.StatusCode != http.StatusOK {
			defer drain(resp)
			return "", false, classifyStatus("pull", resp)
		}

		var gists []gistSummary
		err = json.NewDecoder(resp.Body).Decode(&gists)
		drain(resp)
		if err != nil {
			return "", false, blob.NewError(blob.KindParse, "pull", fmt.Errorf("failed to decode gist list: %w", err))
		}

		for _, g := range gists {
			if g.Description != c.description {
				continue
			}
			if _, ok := g.Files[c.filename]; !ok {
				continue
			}
			c.mu.Lock()
			c.gistID = g.ID
			c.mu.Unlock()
			c.logger.Printf("Located backup gist %s", g.ID)
			return g.ID, true, nil
		}

		if len(gists) < listPageSize {
			return "", false, nil
		}
	}
}

// readContent fetches the backup file content from the gist. GitHub
// truncates inline file content above 1MB; the raw URL is fetched in
// that case.
func (c *Client) readContent(ctx context.Context, token, id string) ([]byte, error) {
	resp, err := c.do(ctx, token, http.MethodGet, "/gists/"+id, nil)
	if err != nil {
		return nil, classifyTransport("pull", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer drain(resp)
		return nil, classifyStatus("pull", resp)
	}

	var detail gistDetail
	err = json.NewDecoder(resp.Body).Decode(&detail)
	drain(resp)
	if err != nil {
		return nil, blob.NewError(blob.KindParse, "pull", fmt.Errorf("failed to decode gist: %w", err))
	}

	file, ok := detail.Files[c.filename]
	if !ok {
		return nil, blob.NewError(blob.KindNotFound, "pull", fmt.Errorf("gist %s has no file %s", id, c.filename))
	}
	if !file.Truncated {
		return []byte(file.Content), nil
	}

	raw, err := c.doURL(ctx, token, http.MethodGet, file.RawURL, nil)
	if err != nil {
		return nil, classifyTransport("pull", err)
	}
	defer drain(raw)
	if raw.StatusCode != http.StatusOK {
		return nil, classifyStatus("pull", raw)
	}
	content, err := io.ReadAll(raw.Body)
	if err != nil {
		return nil, blob.NewError(blob.KindNetwork, "pull", err)
	}
	return content, nil
}

// create makes a new secret backup gist and caches its id.
func (c *Client) create(ctx context.Context, token string, content []byte) error {
	payload := gistWrite{
		Description: c.description,
		Public:      boolPtr(false),
		Files: map[string]gistWriteFile{
			c.filename: {Content: string(content)},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return blob.NewError(blob.KindUnknown, "push", err)
	}

	resp, err := c.do(ctx, token, http.MethodPost, "/gists", bytes.NewReader(body))
	if err != nil {
		return classifyTransport("push", err)
	}
	if resp.StatusCode != http.StatusCreated {
		defer drain(resp)
		return classifyStatus("push", resp)
	}

	var detail gistDetail
	err = json.NewDecoder(resp.Body).Decode(&detail)
	drain(resp)
	if err != nil {
		// The gist was created; only the id cache is cold.
		c.logger.Printf("WARNING: created backup gist but failed to decode response: %v", err)
		return nil
	}

	c.mu.Lock()
	c.gistID = detail.ID
	c.mu.Unlock()
	c.logger.Printf("Created backup gist %s", detail.ID)
	return nil
}

// update overwrites the backup file in an existing gist.
func (c *Client) update(ctx context.Context, token, id string, content []byte) error {
	payload := gistWrite{
		Files: map[string]gistWriteFile{
			c.filename: {Content: string(content)},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return blob.NewError(blob.KindUnknown, "push", err)
	}

	resp, err := c.do(ctx, token, http.MethodPatch, "/gists/"+id, bytes.NewReader(body))
	if err != nil {
		return classifyTransport("push", err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return classifyStatus("push", resp)
	}
	return nil
}

func (c *Client) requireToken(op string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", blob.NewError(blob.KindConfigMissing, op, fmt.Errorf("no credential set"))
	}
	return c.token, nil
}

func (c *Client) do(ctx context.Context, token, method, path string, body io.Reader) (*http.Response, error) {
	return c.doURL(ctx, token, method, c.apiBase+path, body)
}

func (c *Client) doURL(ctx context.Context, token, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// drain discards and closes the response body so the connection can be
// reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func boolPtr(b bool) *bool { return &b }

// gistSummary is the subset of the list-gists response we care about.
type gistSummary struct {
	ID          string                  `json:"id"`
	Description string                  `json:"description"`
	Files       map[string]gistListFile `json:"files"`
}

type gistListFile struct {
	Filename string `json:"filename"`
}

// gistDetail is the subset of the get-gist response we care about.
type gistDetail struct {
	ID    string              `json:"id"`
	Files map[string]gistFile `json:"files"`
}

type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
	RawURL    string `json:"raw_url"`
}

// gistWrite is the create/update request payload.
type gistWrite struct {
	Description string                   `json:"description,omitempty"`
	Public      *bool                    `json:"public,omitempty"`
	Files       map[string]gistWriteFile `json:"files"`
}

type gistWriteFile struct {
	Content string `json:"content"`
}
