package bluesky_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsrmk/skystack/internal/bluesky"
	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
)

func newTestClient(url string) *bluesky.Client {
	return bluesky.NewClient(url, ".skystack.xyz", "topsecret", logger.NewNopLogger())
}

func TestHandleAndPassword(t *testing.T) {
	client := newTestClient("https://pds.example.com")

	assert.Equal(t, "techletters.skystack.xyz", client.Handle("techletters"))

	// Same input, same password; different input, different password.
	assert.Equal(t, client.AccountPassword("techletters"), client.AccountPassword("techletters"))
	assert.NotEqual(t, client.AccountPassword("techletters"), client.AccountPassword("other"))
	assert.Len(t, client.AccountPassword("techletters"), 32)
}

func TestCreateAccount(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/com.atproto.server.createAccount", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]string{"did": "did:plc:abc123"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	did, err := client.CreateAccount(context.Background(), "techletters")

	require.NoError(t, err)
	assert.Equal(t, "did:plc:abc123", did)
	assert.Equal(t, "techletters.skystack.xyz", received["handle"])
	assert.Equal(t, "techletters@skystack.xyz", received["email"])
	assert.NotEmpty(t, received["password"])
}

func TestCreateLinkPost_BackdatesAndEmbeds(t *testing.T) {
	var record map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/com.atproto.repo.createRecord" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		record = payload["record"].(map[string]any)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	session := &bluesky.Session{DID: "did:plc:abc", Handle: "techletters.skystack.xyz", AccessJWT: "jwt"}

	item := domain.PostItem{
		ID:       101,
		Title:    "First",
		Subtitle: "sub",
		Link:     "https://techletters.substack.com/p/first",
		PostDate: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC),
		Labels:   []string{"reaction_count:149"},
	}
	require.NoError(t, client.CreateLinkPost(context.Background(), session, item))

	assert.Equal(t, "First\n\nsub", record["text"])
	assert.Equal(t, "2025-08-01T12:00:00Z", record["createdAt"])

	embed := record["embed"].(map[string]any)
	external := embed["external"].(map[string]any)
	assert.Equal(t, item.Link, external["uri"])
	assert.Equal(t, []any{"reaction_count:149"}, record["tags"])
}

func TestCreateLinkPost_TruncatesOnRuneBoundary(t *testing.T) {
	var record map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/xrpc/com.atproto.repo.createRecord" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		record = payload["record"].(map[string]any)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	session := &bluesky.Session{DID: "did:plc:abc", Handle: "techletters.skystack.xyz", AccessJWT: "jwt"}

	item := domain.PostItem{
		ID:       102,
		Title:    strings.Repeat("é", 320),
		Link:     "https://techletters.substack.com/p/long",
		PostDate: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, client.CreateLinkPost(context.Background(), session, item))

	text := record["text"].(string)
	assert.True(t, utf8.ValidString(text))
	assert.Equal(t, 300, utf8.RuneCountInString(text))
	assert.True(t, strings.HasSuffix(text, "…"))
	assert.NotContains(t, text, "�")
}

func TestListMembers_FollowsCursor(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/app.bsky.graph.getList", r.URL.Path)
		calls++

		page := map[string]any{}
		var items []map[string]any
		start := 0
		if r.URL.Query().Get("cursor") == "page2" {
			start = 100
		} else {
			page["cursor"] = "page2"
		}
		count := 100
		if start == 100 {
			count = 50
		}
		for i := 0; i < count; i++ {
			items = append(items, map[string]any{
				"subject": map[string]any{"handle": fmt.Sprintf("member%d.skystack.xyz", start+i)},
			})
		}
		page["items"] = items
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	session := &bluesky.Session{AccessJWT: "jwt"}

	handles, err := client.ListMembers(context.Background(), session, "at://did:plc:abc/app.bsky.graph.list/all")
	require.NoError(t, err)
	assert.Len(t, handles, 150)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "member0.skystack.xyz", handles[0])
	assert.Equal(t, "member149.skystack.xyz", handles[149])
}

func TestUploadImage_FailureDegradesToNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	session := &bluesky.Session{AccessJWT: "jwt"}

	blob := client.UploadImage(context.Background(), session, server.URL+"/image.png")
	assert.Nil(t, blob)
}

func TestResolveHandle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ann.bsky.social", r.URL.Query().Get("handle"))
		_ = json.NewEncoder(w).Encode(map[string]string{"did": "did:plc:ann"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	did, err := client.ResolveHandle(context.Background(), "ann.bsky.social")

	require.NoError(t, err)
	assert.Equal(t, "did:plc:ann", did)
}

func TestResolveHandle_EmptyDIDIsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.ResolveHandle(context.Background(), "ghost.bsky.social")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestXRPCErrorSurfacesName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "HandleNotAvailable",
			"message": "handle already taken",
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CreateAccount(context.Background(), "taken")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "HandleNotAvailable")
}
