package domain

// Job payloads exchanged with the task queue. Every handler must tolerate
// duplicate delivery; the queue serializes by schedule time only.

// GraphJob expands the recommendation graph of a newly built newsletter.
type GraphJob struct {
	ShortID       string `json:"short_id"`
	PublicationID string `json:"publication_id"`
	IsDormant     bool   `json:"is_dormant"`
}

// DormantCreateJob provisions a dormant mirror for a recommended publication.
type DormantCreateJob struct {
	URL string `json:"url"`
}

// FollowJob creates one follow edge between two mirrored accounts.
type FollowJob struct {
	User          string `json:"user"`
	FollowShortID string `json:"to_follow_short_id"`
}

// ResyncJob imports posts published since the last sync.
type ResyncJob struct {
	ShortID           string   `json:"short_id"`
	LastSyncAt        string   `json:"last_sync_at"`
	PostsImported     int      `json:"posts_imported"`
	PostFrequencyDays *float64 `json:"post_frequency_days"`
}

// BackfillJob imports one bounded batch of older posts. The scheduler
// re-submits it with IterationsLeft decremented until the budget is
// exhausted or a fetch returns no items.
type BackfillJob struct {
	ShortID        string `json:"short_id"`
	OldestPostDate string `json:"oldest_post_date"`
	IterationsLeft int    `json:"iterations_left"`
}

// AnnounceJob announces one newly mirrored newsletter.
type AnnounceJob struct {
	Handle      string `json:"handle"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// UpdateListJob refreshes one category list.
type UpdateListJob struct {
	CategoryID string `json:"id"`
	Name       string `json:"name"`
	ListURI    string `json:"list_uri"`
}
