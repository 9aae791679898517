// Package substack provides the content-source client and archive paginator
// for mirrored publications.
package substack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
)

// Content-source API paths. The archive endpoint is reverse-chronological.
const (
	archivePath         = "/api/v1/archive?sort=new&offset=%d&limit=%d"
	publicProfilePath   = "/api/v1/user/%s/public_profile"
	recommendationsPath = "/api/v1/recommendations/publication/%s"
	rankedUsersPath     = "/api/v1/publication/users/ranked?public=true"
	categoryPath        = "/api/v1/category/public/%s/all?limit=%d"
	ogCardPath          = "/api/v1/og-card"

	imageCDNPrefix = "https://substackcdn.com/image/fetch/"

	defaultRequestTimeout = 15 * time.Second
)

var handleHostPattern = regexp.MustCompile(`^([a-zA-Z0-9\-_.]+)\.substack\.com$`)

// Client fetches publication data from the content source.
type Client struct {
	httpClient  *http.Client
	urlTemplate string
	logger      logger.Logger
}

// NewClient creates a content-source client. urlTemplate produces a
// publication's base URL from its short id, e.g. "https://%s.substack.com".
func NewClient(urlTemplate string, timeout time.Duration, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		urlTemplate: urlTemplate,
		logger:      log,
	}
}

// NewsletterURL returns the canonical base URL for a short id.
func (c *Client) NewsletterURL(shortID string) string {
	return fmt.Sprintf(c.urlTemplate, shortID)
}

// archivePost models the archive response shape. Engagement counts are
// optional; absent fields stay nil and produce no label.
type archivePost struct {
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	Subtitle          string  `json:"subtitle"`
	CanonicalURL      string  `json:"canonical_url"`
	CoverImage        *string `json:"cover_image"`
	PostDate          string  `json:"post_date"`
	ReactionCount     *int    `json:"reaction_count"`
	CommentCount      *int    `json:"comment_count"`
	ChildCommentCount *int    `json:"child_comment_count"`
}

// ArchivePage fetches one page of the publication's archive and normalizes
// each item. Items with unparseable dates carry a zero PostDate; pagination
// modes that depend on the date skip them.
func (c *Client) ArchivePage(ctx context.Context, baseURL string, offset, limit int) ([]domain.PostItem, error) {
	url := baseURL + fmt.Sprintf(archivePath, offset, limit)

	var posts []archivePost
	if err := c.getJSON(ctx, url, &posts); err != nil {
		return nil, err
	}

	items := make([]domain.PostItem, 0, len(posts))
	for i := range posts {
		items = append(items, c.normalizePost(baseURL, &posts[i]))
	}
	return items, nil
}

func (c *Client) normalizePost(baseURL string, post *archivePost) domain.PostItem {
	postDate, err := parseISOZ(post.PostDate)
	if err != nil {
		c.logger.Debug("skipping unparseable post date",
			logger.String("post_date", post.PostDate),
			logger.Int64("post_id", post.ID))
	}

	return domain.PostItem{
		Title:        post.Title,
		Subtitle:     post.Subtitle,
		Link:         post.CanonicalURL,
		ID:           post.ID,
		ThumbnailURL: normalizeImageURL(post.CoverImage, baseURL, true),
		PostDate:     postDate,
		Labels:       postLabels(post),
	}
}

// postLabels derives "key:value" labels from the fixed engagement-count
// fields, omitting absent ones.
func postLabels(post *archivePost) []string {
	var labels []string
	for _, field := range []struct {
		key string
		val *int
	}{
		{"reaction_count", post.ReactionCount},
		{"comment_count", post.CommentCount},
		{"child_comment_count", post.ChildCommentCount},
	} {
		if field.val != nil {
			labels = append(labels, fmt.Sprintf("%s:%d", field.key, *field.val))
		}
	}
	return labels
}

type profileResponse struct {
	PhotoURL         string `json:"photo_url"`
	PublicationUsers []struct {
		Role        string `json:"role"`
		Publication *struct {
			ID           json.Number `json:"id"`
			Name         string      `json:"name"`
			Subdomain    string      `json:"subdomain"`
			CustomDomain *string     `json:"custom_domain"`
			HeroText     string      `json:"hero_text"`
			LogoURL      *string     `json:"logo_url"`
		} `json:"publication"`
	} `json:"publicationUsers"`
}

// AdminProfile fetches the publication owned by the given admin handle.
// Returns domain.ErrNotFound when the handle has no admin publication.
func (c *Client) AdminProfile(ctx context.Context, baseURL, adminHandle string) (*domain.Publication, error) {
	url := baseURL + fmt.Sprintf(publicProfilePath, adminHandle)

	var profile profileResponse
	if err := c.getJSON(ctx, url, &profile); err != nil {
		return nil, err
	}

	for _, pu := range profile.PublicationUsers {
		if pu.Role != "admin" || pu.Publication == nil {
			continue
		}
		pub := pu.Publication

		logoURL := normalizeImageURL(pub.LogoURL, baseURL, false)
		if logoURL == "" && profile.PhotoURL != "" {
			logoURL = normalizeImageURL(&profile.PhotoURL, baseURL, false)
		}

		return &domain.Publication{
			PublicationID: pub.ID.String(),
			Name:          pub.Name,
			ShortID:       pub.Subdomain,
			CustomDomain:  pub.CustomDomain,
			Description:   pub.HeroText,
			LogoURL:       logoURL,
		}, nil
	}
	return nil, fmt.Errorf("%w: no admin publication for handle %q", domain.ErrNotFound, adminHandle)
}

type recommendationResponse struct {
	RecommendedPublication *struct {
		ID           json.Number `json:"id"`
		Name         string      `json:"name"`
		Subdomain    string      `json:"subdomain"`
		CustomDomain *string     `json:"custom_domain"`
		Author       *struct {
			ID     int64  `json:"id"`
			Name   string `json:"name"`
			Handle string `json:"handle"`
		} `json:"author"`
	} `json:"recommendedPublication"`
}

// Recommendations fetches the publications recommended by a publication,
// plus their authors.
func (c *Client) Recommendations(ctx context.Context, baseURL, publicationID string) ([]domain.RecommendedNewsletter, []domain.RecommendedUser, error) {
	url := baseURL + fmt.Sprintf(recommendationsPath, publicationID)

	var recs []recommendationResponse
	if err := c.getJSON(ctx, url, &recs); err != nil {
		return nil, nil, err
	}

	newsletters := make([]domain.RecommendedNewsletter, 0, len(recs))
	users := make([]domain.RecommendedUser, 0, len(recs))
	for _, rec := range recs {
		pub := rec.RecommendedPublication
		if pub == nil {
			continue
		}
		newsletters = append(newsletters, domain.RecommendedNewsletter{
			PublicationID: pub.ID.String(),
			Name:          pub.Name,
			ShortID:       pub.Subdomain,
			CustomDomain:  pub.CustomDomain,
		})
		if pub.Author != nil {
			users = append(users, domain.RecommendedUser{
				ID:     pub.Author.ID,
				Name:   pub.Author.Name,
				Handle: pub.Author.Handle,
			})
		}
	}
	return newsletters, users, nil
}

type rankedUser struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Handle string `json:"handle"`
}

// RankedUsers fetches up to limit publication users ordered by rank.
func (c *Client) RankedUsers(ctx context.Context, baseURL string, limit int) ([]domain.RecommendedUser, error) {
	url := baseURL + rankedUsersPath

	var ranked []rankedUser
	if err := c.getJSON(ctx, url, &ranked); err != nil {
		return nil, err
	}

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	users := make([]domain.RecommendedUser, 0, len(ranked))
	for _, u := range ranked {
		users = append(users, domain.RecommendedUser{ID: u.ID, Name: u.Name, Handle: u.Handle})
	}
	return users, nil
}

// CategoryBestsellers fetches the top publications of a category, returning
// their short ids in rank order. rootURL is the content source's apex host,
// not a publication base URL.
func (c *Client) CategoryBestsellers(ctx context.Context, rootURL, categoryID string, limit int) ([]string, error) {
	url := rootURL + fmt.Sprintf(categoryPath, categoryID, limit)

	var resp struct {
		Publications []struct {
			Subdomain string `json:"subdomain"`
		} `json:"publications"`
	}
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	shortIDs := make([]string, 0, len(resp.Publications))
	for _, pub := range resp.Publications {
		if pub.Subdomain != "" {
			shortIDs = append(shortIDs, pub.Subdomain)
		}
	}
	return shortIDs, nil
}

// AdminHandle resolves the publication's admin handle: the top ranked user,
// falling back to the handle embedded in a *.substack.com host.
func (c *Client) AdminHandle(ctx context.Context, baseURL string) (string, error) {
	users, err := c.RankedUsers(ctx, baseURL, 1)
	if err == nil && len(users) > 0 && users[0].Handle != "" {
		return users[0].Handle, nil
	}

	if handle := handleFromURL(baseURL); handle != "" {
		return handle, nil
	}
	if err != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: no admin handle for %s", domain.ErrNotFound, baseURL)
}

func handleFromURL(baseURL string) string {
	host := baseURL
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}
	if idx := strings.IndexByte(host, '/'); idx >= 0 {
		host = host[:idx]
	}
	if m := handleHostPattern.FindStringSubmatch(host); m != nil {
		return m[1]
	}
	return ""
}

func (c *Client) getJSON(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", domain.ErrUpstreamFetch, url, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrUpstreamFetch, url, err)
	}
	return nil
}

// normalizeImageURL routes image URLs through the CDN. Post items without a
// cover image fall back to the publication's generated preview card.
func normalizeImageURL(imageURL *string, baseURL string, isPost bool) string {
	if imageURL == nil || *imageURL == "" {
		if isPost {
			return baseURL + ogCardPath
		}
		return ""
	}
	if strings.HasPrefix(*imageURL, "https://substackcdn.com/") ||
		strings.HasPrefix(*imageURL, "https://www.substackcdn.com/") {
		return *imageURL
	}
	return imageCDNPrefix + *imageURL
}

// parseISOZ parses an ISO-8601 UTC timestamp with a Z suffix.
func parseISOZ(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatISOZ renders a timestamp in the wire format used by the content
// source (RFC 3339 with millisecond precision and Z suffix).
func FormatISOZ(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
