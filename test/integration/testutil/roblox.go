//go:build integration

package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// RoleChange records one group role update received by FakeRoblox.
type RoleChange struct {
	UserID int64
	RoleID int64
}

// FakeRoblox serves the subset of the Open Cloud and Groups APIs the service calls.
type FakeRoblox struct {
	server *httptest.Server

	mu          sync.Mutex
	entries     map[string]json.RawMessage
	roleChanges []RoleChange
	failRoles   bool
}

// NewFakeRoblox starts a fake API server that is closed with the test.
func NewFakeRoblox(t *testing.T) *FakeRoblox {
	t.Helper()
	f := &FakeRoblox{entries: make(map[string]json.RawMessage)}

	r := chi.NewRouter()
	r.Patch("/v1/groups/{groupId}/users/{userId}", f.updateRole)
	r.Route("/datastores/v1/universes/{universeId}/standard-datastores/datastore/entries", func(r chi.Router) {
		r.Get("/", f.listEntries)
		r.Get("/entry", f.readEntry)
		r.Post("/entry", f.writeEntry)
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

// URL is the base URL for both API families.
func (f *FakeRoblox) URL() string { return f.server.URL }

// PutEntry stores a raw datastore value.
func (f *FakeRoblox) PutEntry(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = json.RawMessage(value)
}

// Entry returns the stored value for key.
func (f *FakeRoblox) Entry(key string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[key]
	return v, ok
}

// RoleChanges returns the role updates received so far.
func (f *FakeRoblox) RoleChanges() []RoleChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RoleChange(nil), f.roleChanges...)
}

// FailRoleUpdates makes every group role update return 503.
func (f *FakeRoblox) FailRoleUpdates(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRoles = fail
}

func (f *FakeRoblox) updateRole(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-api-key") == "" {
		http.Error(w, "missing api key", http.StatusUnauthorized)
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil {
		http.Error(w, "bad user", http.StatusBadRequest)
		return
	}
	var body struct {
		RoleID int64 `json:"roleId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRoles {
		http.Error(w, "groups unavailable", http.StatusServiceUnavailable)
		return
	}
	f.roleChanges = append(f.roleChanges, RoleChange{UserID: userID, RoleID: body.RoleID})
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{}`))
}

func (f *FakeRoblox) listEntries(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	f.mu.Lock()
	keys := make([]string, 0, len(f.entries))
	for k := range f.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()
	sort.Strings(keys)

	type ref struct {
		EntryKey string `json:"entryKey"`
	}
	out := struct {
		Entries []ref `json:"entries"`
	}{Entries: make([]ref, 0, len(keys))}
	for _, k := range keys {
		out.Entries = append(out.Entries, ref{EntryKey: k})
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (f *FakeRoblox) readEntry(w http.ResponseWriter, r *http.Request) {
	v, ok := f.Entry(r.URL.Query().Get("entryKey"))
	if !ok {
		http.Error(w, `{"error":"NOT_FOUND"}`, http.StatusNotFound)
		return
	}
	_, _ = w.Write(v)
}

func (f *FakeRoblox) writeEntry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	f.PutEntry(r.URL.Query().Get("entryKey"), string(body))
	_, _ = w.Write([]byte(`{"version":"1"}`))
}
