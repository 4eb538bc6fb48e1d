package gist

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/convosync/convosync/internal/blob"
	"github.com/convosync/convosync/internal/model"
)

const testToken = "good-token"

// fakeGitHub is an in-memory stand-in for the gists API.
type fakeGitHub struct {
	mu          sync.Mutex
	gists       map[string]*fakeGist
	seq         int
	listCalls   int
	createCalls int
	updateCalls int
}

type fakeGist struct {
	id          string
	description string
	files       map[string]string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{gists: map[string]*fakeGist{}}
}

func (f *fakeGitHub) addGist(description, filename, content string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("gist-%d", f.seq)
	f.gists[id] = &fakeGist{id: id, description: description, files: map[string]string{filename: content}}
	return id
}

func (f *fakeGitHub) deleteGist(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.gists, id)
}

func (f *fakeGitHub) counts() (list, create, update int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.createCalls, f.updateCalls
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()

	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message": "Bad credentials"}`)
			return false
		}
		return true
	}

	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		fmt.Fprint(w, `{"login": "tester"}`)
	})

	mux.HandleFunc("/gists", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		switch r.Method {
		case http.MethodGet:
			f.mu.Lock()
			f.listCalls++
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			type listFile struct {
				Filename string `json:"filename"`
			}
			type summary struct {
				ID          string              `json:"id"`
				Description string              `json:"description"`
				Files       map[string]listFile `json:"files"`
			}
			out := []summary{}
			if page <= 1 {
				for _, g := range f.gists {
					files := map[string]listFile{}
					for name := range g.files {
						files[name] = listFile{Filename: name}
					}
					out = append(out, summary{ID: g.id, Description: g.description, Files: files})
				}
			}
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(out)

		case http.MethodPost:
			var payload struct {
				Description string `json:"description"`
				Files       map[string]struct {
					Content string `json:"content"`
				} `json:"files"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			f.mu.Lock()
			f.createCalls++
			f.seq++
			id := fmt.Sprintf("gist-%d", f.seq)
			files := map[string]string{}
			for name, file := range payload.Files {
				files[name] = file.Content
			}
			f.gists[id] = &fakeGist{id: id, description: payload.Description, files: files}
			f.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"id": %q}`, id)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/gists/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		id := r.URL.Path[len("/gists/"):]
		f.mu.Lock()
		g, ok := f.gists[id]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message": "Not Found"}`)
			return
		}

		switch r.Method {
		case http.MethodGet:
			type file struct {
				Content   string `json:"content"`
				Truncated bool   `json:"truncated"`
			}
			files := map[string]file{}
			f.mu.Lock()
			for name, content := range g.files {
				files[name] = file{Content: content}
			}
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"id": g.id, "files": files})

		case http.MethodPatch:
			var payload struct {
				Files map[string]struct {
					Content string `json:"content"`
				} `json:"files"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			f.mu.Lock()
			f.updateCalls++
			for name, fl := range payload.Files {
				g.files[name] = fl.Content
			}
			f.mu.Unlock()
			fmt.Fprintf(w, `{"id": %q}`, g.id)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	return mux
}

// setupClient starts a fake API and returns a client logged in against it.
func setupClient(t *testing.T, gh *fakeGitHub) *Client {
	t.Helper()

	srv := httptest.NewServer(gh.handler())
	t.Cleanup(srv.Close)

	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte(testToken+"\n"), 0600); err != nil {
		t.Fatalf("failed to seed token file: %v", err)
	}

	c, err := New(Config{
		APIBase:   srv.URL,
		TokenPath: tokenPath,
		Timeout:   5 * time.Second,
		Logger:    log.New(os.Stderr, "[gist-test] ", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func TestPull_EmptyRemoteBootstrap(t *testing.T) {
	gh := newFakeGitHub()
	c := setupClient(t, gh)

	snap, err := c.Pull(t.Context())
	if err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if len(snap.Conversations) != 0 {
		t.Errorf("conversation count = %d, want 0", len(snap.Conversations))
	}
	if snap.OwnerTag != model.DefaultOwnerTag {
		t.Errorf("ownerTag = %q, want %q", snap.OwnerTag, model.DefaultOwnerTag)
	}
}

func TestPushPull_RoundTrip(t *testing.T) {
	gh := newFakeGitHub()
	c := setupClient(t, gh)
	ctx := t.Context()

	snap := model.NewSnapshot(model.DefaultOwnerTag, "dev-1", []model.Conversation{{
		ID:          "c1",
		Title:       "Round trip",
		Messages:    []model.Message{{ID: "m1", Content: "hello", CreatedAt: 42}},
		Anchors:     map[string]model.Anchor{"m1": {Hash: "h", PositionIndex: 0}},
		LastUpdated: 42,
	}})
	if err := c.Push(ctx, snap); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}

	// A different client instance has a cold cache and must re-locate.
	c2 := setupClientAgainst(t, gh, c)
	got, err := c2.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("round trip mismatch (-pushed +pulled):\n%s", diff)
	}
}

// setupClientAgainst creates a second client sharing the first client's
// fake server and credential.
func setupClientAgainst(t *testing.T, gh *fakeGitHub, first *Client) *Client {
	t.Helper()
	c, err := New(Config{
		APIBase:   first.apiBase,
		TokenPath: first.tokenPath,
		Timeout:   5 * time.Second,
		Logger:    log.New(os.Stderr, "[gist-test] ", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func TestPush_CreatesThenUpdates(t *testing.T) {
	gh := newFakeGitHub()
	c := setupClient(t, gh)
	ctx := t.Context()

	snap := model.NewSnapshot(model.DefaultOwnerTag, "", nil)
	if err := c.Push(ctx, snap); err != nil {
		t.Fatalf("first Push() failed: %v", err)
	}
	if err := c.Push(ctx, snap); err != nil {
		t.Fatalf("second Push() failed: %v", err)
	}

	list, create, update := gh.counts()
	if create != 1 {
		t.Errorf("create calls = %d, want 1", create)
	}
	if update != 1 {
		t.Errorf("update calls = %d, want 1", update)
	}
	// The id cache means the second push never re-lists.
	if list != 1 {
		t.Errorf("list calls = %d, want 1 (cached id skips lookup)", list)
	}
}

func TestPush_RecreatesWhenGistDeletedExternally(t *testing.T) {
	gh := newFakeGitHub()
	c := setupClient(t, gh)
	ctx := t.Context()

	snap := model.NewSnapshot(model.DefaultOwnerTag, "", nil)
	if err := c.Push(ctx, snap); err != nil {
		t.Fatalf("first Push() failed: %v", err)
	}

	gh.mu.Lock()
	var id string
	for gid := range gh.gists {
		id = gid
	}
	gh.mu.Unlock()
	gh.deleteGist(id)

	if err := c.Push(ctx, snap); err != nil {
		t.Fatalf("Push() after external delete failed: %v", err)
	}
	_, create, _ := gh.counts()
	if create != 2 {
		t.Errorf("create calls = %d, want 2 (recreated after stale cache)", create)
	}
}

func TestPull_MalformedRemoteIsParseError(t *testing.T) {
	gh := newFakeGitHub()
	gh.addGist(DefaultDescription, DefaultFilename, `{not json`)
	c := setupClient(t, gh)

	_, err := c.Pull(t.Context())
	if !blob.IsKind(err, blob.KindParse) {
		t.Errorf("error kind = %v, want PARSE_ERROR (err: %v)", blob.KindOf(err), err)
	}
}

func TestPull_ForeignOwnerTagIsParseError(t *testing.T) {
	gh := newFakeGitHub()
	gh.addGist(DefaultDescription, DefaultFilename,
		`{"version": 1, "extensionId": "someone-else", "conversations": []}`)
	c := setupClient(t, gh)

	_, err := c.Pull(t.Context())
	if !blob.IsKind(err, blob.KindParse) {
		t.Errorf("error kind = %v, want PARSE_ERROR (err: %v)", blob.KindOf(err), err)
	}
}

func TestPull_IgnoresUnrelatedGists(t *testing.T) {
	gh := newFakeGitHub()
	gh.addGist("someone's dotfiles", "vimrc", "set nocompatible")
	gh.addGist(DefaultDescription, "wrong-file.json", "{}")
	c := setupClient(t, gh)

	snap, err := c.Pull(t.Context())
	if err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if len(snap.Conversations) != 0 {
		t.Errorf("unrelated gists must not match; got %d conversations", len(snap.Conversations))
	}
}

func TestPull_Unauthenticated(t *testing.T) {
	gh := newFakeGitHub()
	srv := httptest.NewServer(gh.handler())
	t.Cleanup(srv.Close)

	c, err := New(Config{
		APIBase:   srv.URL,
		TokenPath: filepath.Join(t.TempDir(), "token"),
		Logger:    log.New(os.Stderr, "[gist-test] ", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	_, err = c.Pull(t.Context())
	if !blob.IsKind(err, blob.KindConfigMissing) {
		t.Errorf("error kind = %v, want CONFIG_MISSING", blob.KindOf(err))
	}
}

func TestLogin_RejectsBadTokenWithoutStoring(t *testing.T) {
	gh := newFakeGitHub()
	srv := httptest.NewServer(gh.handler())
	t.Cleanup(srv.Close)

	tokenPath := filepath.Join(t.TempDir(), "token")
	c, err := New(Config{
		APIBase:   srv.URL,
		TokenPath: tokenPath,
		Logger:    log.New(os.Stderr, "[gist-test] ", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	err = c.Login(t.Context(), "wrong-token")
	if !blob.IsKind(err, blob.KindAuth) {
		t.Errorf("error kind = %v, want AUTH_FAILED", blob.KindOf(err))
	}
	if _, statErr := os.Stat(tokenPath); !os.IsNotExist(statErr) {
		t.Error("rejected credential must not be persisted")
	}
	if c.IsAuthenticated() {
		t.Error("IsAuthenticated() = true after failed login")
	}
}

func TestLogin_PersistsValidToken(t *testing.T) {
	gh := newFakeGitHub()
	srv := httptest.NewServer(gh.handler())
	t.Cleanup(srv.Close)

	tokenPath := filepath.Join(t.TempDir(), "creds", "token")
	c, err := New(Config{
		APIBase:   srv.URL,
		TokenPath: tokenPath,
		Logger:    log.New(os.Stderr, "[gist-test] ", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if err := c.Login(t.Context(), testToken); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if !c.IsAuthenticated() {
		t.Error("IsAuthenticated() = false after login")
	}

	info, err := os.Stat(tokenPath)
	if err != nil {
		t.Fatalf("credential file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("credential file mode = %o, want 0600", perm)
	}

	// A fresh client picks the stored credential back up.
	again, err := New(Config{
		APIBase:   srv.URL,
		TokenPath: tokenPath,
		Logger:    log.New(os.Stderr, "[gist-test] ", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if !again.IsAuthenticated() {
		t.Error("stored credential not loaded by a fresh client")
	}
}

func TestLogout_RemovesCredential(t *testing.T) {
	gh := newFakeGitHub()
	c := setupClient(t, gh)

	if err := c.Logout(); err != nil {
		t.Fatalf("Logout() failed: %v", err)
	}
	if c.IsAuthenticated() {
		t.Error("IsAuthenticated() = true after logout")
	}
	if _, err := os.Stat(c.tokenPath); !os.IsNotExist(err) {
		t.Error("credential file should be removed on logout")
	}

	// Logging out twice is fine.
	if err := c.Logout(); err != nil {
		t.Errorf("second Logout() failed: %v", err)
	}
}

func TestPull_TruncatedContentFallsBackToRawURL(t *testing.T) {
	snap := model.NewSnapshot(model.DefaultOwnerTag, "", nil)
	body, err := snap.Marshal()
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	mux := http.NewServeMux()
	var rawBase string
	mux.HandleFunc("/gists", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"id": "g1", "description": %q, "files": {%q: {"filename": %q}}}]`,
			DefaultDescription, DefaultFilename, DefaultFilename)
	})
	mux.HandleFunc("/gists/g1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id": "g1", "files": {%q: {"content": "", "truncated": true, "raw_url": %q}}}`,
			DefaultFilename, rawBase+"/raw/g1")
	})
	mux.HandleFunc("/raw/g1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	rawBase = srv.URL

	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte(testToken), 0600); err != nil {
		t.Fatalf("failed to seed token file: %v", err)
	}
	c, err := New(Config{
		APIBase:   srv.URL,
		TokenPath: tokenPath,
		Logger:    log.New(os.Stderr, "[gist-test] ", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	got, err := c.Pull(t.Context())
	if err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Errorf("truncated pull mismatch (-want +got):\n%s", diff)
	}
}

func TestPull_ServerErrorIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte(testToken), 0600); err != nil {
		t.Fatalf("failed to seed token file: %v", err)
	}
	c, err := New(Config{
		APIBase:   srv.URL,
		TokenPath: tokenPath,
		Logger:    log.New(os.Stderr, "[gist-test] ", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	_, err = c.Pull(t.Context())
	if !blob.IsKind(err, blob.KindNetwork) {
		t.Errorf("error kind = %v, want NETWORK", blob.KindOf(err))
	}
}

func TestPull_UnreachableServerIsNetwork(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte(testToken), 0600); err != nil {
		t.Fatalf("failed to seed token file: %v", err)
	}
	c, err := New(Config{
		APIBase:   "http://127.0.0.1:1", // nothing listens here
		TokenPath: tokenPath,
		Timeout:   time.Second,
		Logger:    log.New(os.Stderr, "[gist-test] ", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	_, err = c.Pull(t.Context())
	if !blob.IsKind(err, blob.KindNetwork) {
		t.Errorf("error kind = %v, want NETWORK (err: %v)", blob.KindOf(err), err)
	}
}
