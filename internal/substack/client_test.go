package substack_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
	"github.com/hsrmk/skystack/internal/substack"
)

func newTestClient() *substack.Client {
	return substack.NewClient("https://%s.substack.com", 5*time.Second, logger.NewNopLogger())
}

func TestArchivePage_NormalizesItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/api/v1/archive")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{
				"id": 101,
				"title": "First",
				"subtitle": "sub",
				"canonical_url": "https://x.substack.com/p/first",
				"cover_image": "https://images.example.com/a.png",
				"post_date": "2025-08-01T12:00:00.000Z",
				"reaction_count": 149,
				"comment_count": 109,
				"child_comment_count": 33
			},
			{
				"id": 102,
				"title": "Second",
				"canonical_url": "https://x.substack.com/p/second",
				"post_date": "2025-07-30T09:30:00.000Z"
			}
		]`))
	}))
	defer server.Close()

	client := newTestClient()
	items, err := client.ArchivePage(context.Background(), server.URL, 0, 20)

	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, int64(101), first.ID)
	assert.Equal(t, "First", first.Title)
	assert.Equal(t, "https://substackcdn.com/image/fetch/https://images.example.com/a.png", first.ThumbnailURL)
	assert.Equal(t, []string{"reaction_count:149", "comment_count:109", "child_comment_count:33"}, first.Labels)
	assert.Equal(t, time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC), first.PostDate)

	second := items[1]
	assert.Equal(t, server.URL+"/api/v1/og-card", second.ThumbnailURL, "missing cover image falls back to the preview card")
	assert.Empty(t, second.Labels)
}

func TestArchivePage_KeepsCDNImageURLs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": 1, "title": "t", "canonical_url": "u",
			"cover_image": "https://substackcdn.com/image/fetch/b.png",
			"post_date": "2025-08-01T12:00:00.000Z"}]`))
	}))
	defer server.Close()

	client := newTestClient()
	items, err := client.ArchivePage(context.Background(), server.URL, 0, 20)

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "https://substackcdn.com/image/fetch/b.png", items[0].ThumbnailURL)
}

func TestArchivePage_NonOKStatusIsUpstreamFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient()
	_, err := client.ArchivePage(context.Background(), server.URL, 0, 20)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamFetch)
}

func TestAdminProfile_PicksAdminPublication(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/api/v1/user/alice/public_profile")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"photo_url": "https://images.example.com/alice.png",
			"publicationUsers": [
				{"role": "contributor", "publication": {"id": 1, "name": "Other", "subdomain": "other"}},
				{"role": "admin", "publication": {
					"id": 42, "name": "Tech Letters", "subdomain": "techletters",
					"custom_domain": "techletters.io", "hero_text": "Weekly tech writing"
				}}
			]
		}`))
	}))
	defer server.Close()

	client := newTestClient()
	pub, err := client.AdminProfile(context.Background(), server.URL, "alice")

	require.NoError(t, err)
	assert.Equal(t, "42", pub.PublicationID)
	assert.Equal(t, "techletters", pub.ShortID)
	require.NotNil(t, pub.CustomDomain)
	assert.Equal(t, "techletters.io", *pub.CustomDomain)
	assert.Equal(t, "Weekly tech writing", pub.Description)
	// No publication logo: profile photo is used instead.
	assert.Equal(t, "https://substackcdn.com/image/fetch/https://images.example.com/alice.png", pub.LogoURL)
}

func TestAdminProfile_NoAdminReturnsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"publicationUsers": []}`))
	}))
	defer server.Close()

	client := newTestClient()
	_, err := client.AdminProfile(context.Background(), server.URL, "nobody")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecommendations_CollectsPublicationsAndAuthors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"recommendedPublication": {
				"id": 7, "name": "A", "subdomain": "a",
				"author": {"id": 70, "name": "Ann", "handle": "ann"}
			}},
			{"recommendedPublication": {"id": 8, "name": "B", "subdomain": "b"}},
			{}
		]`))
	}))
	defer server.Close()

	client := newTestClient()
	newsletters, users, err := client.Recommendations(context.Background(), server.URL, "42")

	require.NoError(t, err)
	require.Len(t, newsletters, 2)
	assert.Equal(t, "a", newsletters[0].ShortID)
	assert.Equal(t, "b", newsletters[1].ShortID)
	require.Len(t, users, 1)
	assert.Equal(t, "ann", users[0].Handle)
}

func TestAdminHandle_FallsBackToHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient()

	// Ranked users came back empty; the host carries no substack handle
	// either, so resolution fails.
	_, err := client.AdminHandle(context.Background(), server.URL)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, "https://techletters.substack.com", client.NewsletterURL("techletters"))
}

func TestRankedUsers_AppliesLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": 1, "name": "A", "handle": "a"},
			{"id": 2, "name": "B", "handle": "b"},
			{"id": 3, "name": "C", "handle": "c"}
		]`))
	}))
	defer server.Close()

	client := newTestClient()
	users, err := client.RankedUsers(context.Background(), server.URL, 2)

	require.NoError(t, err)
	assert.Len(t, users, 2)
}
