// Package domain contains the core domain models for the skystack service.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Newsletter is the persisted record for one mirrored publication, keyed by
// ShortID (the publication's subdomain on the content source).
type Newsletter struct {
	PublicationID   string  `db:"publication_id"  json:"publication_id"`
	Name            string  `db:"name"            json:"name"`
	ShortID         string  `db:"short_id"        json:"short_id"`
	CanonicalDomain string  `db:"canonical_domain" json:"canonical_domain"`
	CustomDomain    *string `db:"custom_domain"   json:"custom_domain,omitempty"`
	Description     string  `db:"description"     json:"description"`
	LogoURL         string  `db:"logo_url"        json:"logo_url"`

	// Cadence state. PostsImported only increases; OldestPostDate only moves
	// backward once set; ForceResync is a one-shot override cleared when the
	// due-for-resync scan selects the record.
	LastSyncAt        time.Time  `db:"last_sync_at"        json:"last_sync_at"`
	PostsImported     int        `db:"posts_imported"      json:"posts_imported"`
	PostFrequencyDays *float64   `db:"post_frequency_days" json:"post_frequency_days,omitempty"`
	OldestPostDate    *time.Time `db:"oldest_post_date"    json:"oldest_post_date,omitempty"`
	ForceResync       bool       `db:"force_resync"        json:"force_resync"`

	// IsDormant is true until the publication's proxy account has completed
	// full activation (follow graph plus backfill).
	IsDormant bool `db:"is_dormant" json:"is_dormant"`

	RecommendedNewsletters RecommendedNewsletterList `db:"recommended_newsletters" json:"recommended_newsletters,omitempty"`
	RecommendedUsers       RecommendedUserList       `db:"recommended_users"       json:"recommended_users,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DueForResync reports whether the newsletter's next expected post is
// overdue, or a forced resync was requested.
func (n *Newsletter) DueForResync(now time.Time) bool {
	if n.ForceResync {
		return true
	}
	if n.PostFrequencyDays == nil {
		return false
	}
	next := n.LastSyncAt.Add(time.Duration(*n.PostFrequencyDays * float64(24*time.Hour)))
	return next.Before(now)
}

// Publication holds the details fetched from the content source's admin
// profile for a publication.
type Publication struct {
	PublicationID string  `json:"publication_id"`
	Name          string  `json:"name"`
	ShortID       string  `json:"short_id"`
	CustomDomain  *string `json:"custom_domain,omitempty"`
	Description   string  `json:"description"`
	LogoURL       string  `json:"logo_url"`
}

// RecommendedNewsletter is one entry in a publication's recommendation set.
type RecommendedNewsletter struct {
	PublicationID string  `json:"publication_id"`
	Name          string  `json:"name"`
	ShortID       string  `json:"short_id"`
	CustomDomain  *string `json:"custom_domain,omitempty"`
}

// RecommendedUser is an author surfaced by the recommendation set.
type RecommendedUser struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Handle string `json:"handle"`
}

// RecommendedNewsletterList stores the recommendation set as a JSONB column.
type RecommendedNewsletterList []RecommendedNewsletter

// Value implements driver.Valuer.
func (l RecommendedNewsletterList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *RecommendedNewsletterList) Scan(src any) error {
	return scanJSON(src, l)
}

// RecommendedUserList stores recommended users as a JSONB column.
type RecommendedUserList []RecommendedUser

// Value implements driver.Valuer.
func (l RecommendedUserList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *RecommendedUserList) Scan(src any) error {
	return scanJSON(src, l)
}

func scanJSON(src, dest any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported scan type %T", src)
	}
}

// PostItem is the normalized shape of one archive item.
type PostItem struct {
	Title        string    `json:"title"`
	Subtitle     string    `json:"subtitle"`
	Link         string    `json:"link"`
	ID           int64     `json:"id"`
	ThumbnailURL string    `json:"thumbnail_url"`
	PostDate     time.Time `json:"post_date"`
	Labels       []string  `json:"labels,omitempty"`
}
