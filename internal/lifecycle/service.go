// Package lifecycle owns the newsletter state machine: provisioning,
// activation, resync, backfill, and the compensating rollback that keeps the
// persisted record and the external account in step.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hsrmk/skystack/internal/bluesky"
	"github.com/hsrmk/skystack/internal/cadence"
	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
	"github.com/hsrmk/skystack/internal/metrics"
	"github.com/hsrmk/skystack/internal/substack"
)

// Import batch sizes per flow.
const (
	createImportLimit  = 10
	dormantImportLimit = 20
	backfillBatchSize  = 20
	rankedUserLimit    = 5
	bestsellerLimit    = 25
)

// Store is the persistence surface the state machine drives.
type Store interface {
	Create(ctx context.Context, n *domain.Newsletter) error
	Get(ctx context.Context, shortID string) (*domain.Newsletter, error)
	UpdateSyncState(ctx context.Context, shortID string, lastSyncAt time.Time, postsImported int, postFrequencyDays *float64) error
	UpdateGraph(ctx context.Context, shortID string, newsletters domain.RecommendedNewsletterList, users domain.RecommendedUserList) error
	AdvanceBackfill(ctx context.Context, shortID string, delta int, oldestPostDate time.Time) error
	SetDormant(ctx context.Context, shortID string, dormant bool) error
	Delete(ctx context.Context, shortID string) error
	ListDueForResync(ctx context.Context, now time.Time) ([]domain.Newsletter, error)
	ListAll(ctx context.Context) ([]domain.Newsletter, error)
}

// FailureLog records operations that left irrecoverable partial state.
type FailureLog interface {
	Record(ctx context.Context, entry domain.FailureLogEntry) error
}

// Source fetches publication metadata from the content source.
type Source interface {
	NewsletterURL(shortID string) string
	AdminHandle(ctx context.Context, baseURL string) (string, error)
	AdminProfile(ctx context.Context, baseURL, adminHandle string) (*domain.Publication, error)
	Recommendations(ctx context.Context, baseURL, publicationID string) ([]domain.RecommendedNewsletter, []domain.RecommendedUser, error)
	RankedUsers(ctx context.Context, baseURL string, limit int) ([]domain.RecommendedUser, error)
	CategoryBestsellers(ctx context.Context, rootURL, categoryID string, limit int) ([]string, error)
}

// Feed walks a publication's archive.
type Feed interface {
	FetchPosts(ctx context.Context, baseURL string, limit int) ([]domain.PostItem, error)
	FetchLatestPosts(ctx context.Context, baseURL string, since time.Time) ([]domain.PostItem, []time.Time, error)
	FetchOlderPosts(ctx context.Context, baseURL string, olderThan time.Time) ([]domain.PostItem, error)
}

// Social is the social-network surface consumed by the state machine.
type Social interface {
	Handle(shortID string) string
	CreateAccount(ctx context.Context, shortID string) (string, error)
	DeleteAccount(ctx context.Context, did, adminPassword string) error
	Login(ctx context.Context, shortID string) (*bluesky.Session, error)
	LoginAs(ctx context.Context, identifier, password string) (*bluesky.Session, error)
	UpdateProfile(ctx context.Context, session *bluesky.Session, displayName, description string, avatar bluesky.Blob) error
	UploadImage(ctx context.Context, session *bluesky.Session, imageURL string) bluesky.Blob
	CreateLinkPost(ctx context.Context, session *bluesky.Session, item domain.PostItem) error
	Follow(ctx context.Context, session *bluesky.Session, subjectDID string) error
	ResolveHandle(ctx context.Context, handle string) (string, error)
	AddToList(ctx context.Context, session *bluesky.Session, listURI, subjectDID string) error
	ListMembers(ctx context.Context, session *bluesky.Session, listURI string) ([]string, error)
}

// FanOut schedules the dependent background jobs.
type FanOut interface {
	ScheduleGraphBuild(ctx context.Context, job domain.GraphJob) string
	ScheduleExpansion(ctx context.Context, recs []domain.RecommendedNewsletter) map[string]string
	ScheduleFollows(ctx context.Context, followerShortID string, users []domain.RecommendedUser) map[string]string
	ScheduleBackfill(ctx context.Context, job domain.BackfillJob) string
	ScheduleResyncs(ctx context.Context, jobs []domain.ResyncJob) map[string]string
	ScheduleAnnouncements(ctx context.Context, jobs []domain.AnnounceJob) map[string]string
	ScheduleListUpdates(ctx context.Context, jobs []domain.UpdateListJob) map[string]string
}

// Config holds the lifecycle service settings.
type Config struct {
	AdminPassword      string
	ServiceHandle      string
	ServicePassword    string
	AllNewslettersList string
	RootURL            string
	BackfillIterations int
}

// Event is one progress update emitted during the streaming creation flow.
type Event struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	ShortID string `json:"short_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EventSink receives progress events. A nil sink discards them.
type EventSink func(Event)

// Service is the newsletter lifecycle state machine.
type Service struct {
	store     Store
	failures  FailureLog
	source    Source
	feed      Feed
	social    Social
	scheduler FanOut
	cfg       Config
	metrics   *metrics.Metrics
	logger    logger.Logger
	now       func() time.Time
}

// NewService wires the state machine to its collaborators.
func NewService(store Store, failures FailureLog, source Source, feed Feed, social Social, fanOut FanOut, cfg Config, m *metrics.Metrics, log logger.Logger) *Service {
	if cfg.BackfillIterations <= 0 {
		cfg.BackfillIterations = 10
	}
	if cfg.RootURL == "" {
		cfg.RootURL = "https://substack.com"
	}
	return &Service{
		store:     store,
		failures:  failures,
		source:    source,
		feed:      feed,
		social:    social,
		scheduler: fanOut,
		cfg:       cfg,
		metrics:   m,
		logger:    log,
		now:       time.Now,
	}
}

// CreateNewsletter provisions an active mirror for the publication at url,
// emitting progress events as each stage completes. A publication that is
// already mirrored is a no-op success.
func (s *Service) CreateNewsletter(ctx context.Context, url string, emit EventSink) (*domain.Newsletter, error) {
	return s.provision(ctx, domain.OpCreateNewsletter, url, false, createImportLimit, emit)
}

// CreateDormantNewsletter provisions a dormant mirror for a recommended
// publication. Invoked by queued expansion jobs, so duplicate delivery must
// converge to success.
func (s *Service) CreateDormantNewsletter(ctx context.Context, job domain.DormantCreateJob) (*domain.Newsletter, error) {
	return s.provision(ctx, domain.OpCreateDormant, job.URL, true, dormantImportLimit, nil)
}

func (s *Service) provision(ctx context.Context, operation, url string, dormant bool, importLimit int, emit EventSink) (*domain.Newsletter, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	url = strings.TrimSuffix(strings.TrimSpace(url), "/")
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", domain.ErrValidation)
	}

	adminHandle, err := s.source.AdminHandle(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("resolve admin handle for %s: %w", url, err)
	}
	emit(Event{Stage: "profile", Message: "resolved admin " + adminHandle})

	pub, err := s.source.AdminProfile(ctx, url, adminHandle)
	if err != nil {
		return nil, fmt.Errorf("fetch publication profile: %w", err)
	}

	// Existence check precedes every external side effect: a mirrored
	// publication makes the whole request a no-op success.
	if existing, getErr := s.store.Get(ctx, pub.ShortID); getErr == nil {
		emit(Event{Stage: "done", Message: "already mirrored", ShortID: pub.ShortID})
		return existing, nil
	}

	did, err := s.social.CreateAccount(ctx, pub.ShortID)
	if err != nil {
		return nil, fmt.Errorf("create account for %s: %w", pub.ShortID, err)
	}
	emit(Event{Stage: "account", Message: "account created", ShortID: pub.ShortID})

	// Everything past this point has an externally visible side effect and
	// must be reversed on failure.
	record, err := s.buildAndPersist(ctx, url, pub, dormant, importLimit, emit)
	if err != nil {
		return nil, s.compensate(ctx, operation, map[string]string{"url": url}, pub.ShortID, did, err)
	}

	status := s.scheduler.ScheduleGraphBuild(ctx, domain.GraphJob{
		ShortID:       record.ShortID,
		PublicationID: record.PublicationID,
		IsDormant:     record.IsDormant,
	})
	emit(Event{Stage: "graph", Message: "graph build " + status, ShortID: record.ShortID})
	emit(Event{Stage: "done", Message: "newsletter mirrored", ShortID: record.ShortID})
	return record, nil
}

func (s *Service) buildAndPersist(ctx context.Context, url string, pub *domain.Publication, dormant bool, importLimit int, emit EventSink) (*domain.Newsletter, error) {
	session, err := s.social.Login(ctx, pub.ShortID)
	if err != nil {
		return nil, fmt.Errorf("open session for %s: %w", pub.ShortID, err)
	}

	avatar := s.social.UploadImage(ctx, session, pub.LogoURL)
	if err := s.social.UpdateProfile(ctx, session, pub.Name, pub.Description, avatar); err != nil {
		return nil, fmt.Errorf("update profile for %s: %w", pub.ShortID, err)
	}
	emit(Event{Stage: "profile", Message: "profile published", ShortID: pub.ShortID})

	items, err := s.feed.FetchPosts(ctx, url, importLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch archive for %s: %w", pub.ShortID, err)
	}

	imported, dates := s.importItems(ctx, session, pub.ShortID, items, "create")
	if len(items) > 0 && imported == 0 {
		return nil, fmt.Errorf("%w: %d posts attempted for %s", domain.ErrNoContentImported, len(items), pub.ShortID)
	}
	emit(Event{Stage: "import", Message: fmt.Sprintf("%d posts imported", imported), ShortID: pub.ShortID})

	now := s.now().UTC()
	record := &domain.Newsletter{
		PublicationID:   pub.PublicationID,
		Name:            pub.Name,
		ShortID:         pub.ShortID,
		CanonicalDomain: url,
		CustomDomain:    pub.CustomDomain,
		Description:     pub.Description,
		LogoURL:         pub.LogoURL,
		LastSyncAt:      now,
		PostsImported:   imported,
		IsDormant:       dormant,
	}
	if len(dates) > 0 {
		record.LastSyncAt = dates[0]
		oldest := dates[len(dates)-1]
		record.OldestPostDate = &oldest
		record.PostFrequencyDays = cadence.InitialFrequency(dates)
	}

	if err := s.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("persist newsletter %s: %w", pub.ShortID, err)
	}
	return record, nil
}

// importItems posts items oldest-first so the mirrored timeline reads in
// publication order, and returns the imported dates newest-first. Per-item
// failures are logged and skipped; the caller decides whether zero successes
// is fatal.
func (s *Service) importItems(ctx context.Context, session *bluesky.Session, shortID string, items []domain.PostItem, mode string) (int, []time.Time) {
	start := time.Now()
	imported := 0
	var dates []time.Time

	for i := len(items) - 1; i >= 0; i-- {
		if err := s.social.CreateLinkPost(ctx, session, items[i]); err != nil {
			s.logger.Warn("post import failed",
				logger.String("short_id", shortID),
				logger.Int64("post_id", items[i].ID),
				logger.Error(err))
			continue
		}
		imported++
		if !items[i].PostDate.IsZero() {
			dates = append([]time.Time{items[i].PostDate}, dates...)
		}
	}

	s.metrics.PostsImported.WithLabelValues(mode).Add(float64(imported))
	s.metrics.ImportDurations.Observe(time.Since(start).Seconds())
	return imported, dates
}

// ActivateDormantNewsletter promotes a dormant mirror: schedules the
// backward backfill from the stored watermark, fans out the stored
// recommendation graph, and flips the flag. Activating an active newsletter
// is a no-op success.
func (s *Service) ActivateDormantNewsletter(ctx context.Context, shortID string) error {
	record, err := s.store.Get(ctx, shortID)
	if err != nil {
		return err
	}
	if !record.IsDormant {
		return nil
	}

	oldest := ""
	if record.OldestPostDate != nil {
		oldest = substack.FormatISOZ(*record.OldestPostDate)
	}
	s.scheduler.ScheduleBackfill(ctx, domain.BackfillJob{
		ShortID:        shortID,
		OldestPostDate: oldest,
		IterationsLeft: s.cfg.BackfillIterations,
	})
	s.scheduler.ScheduleExpansion(ctx, record.RecommendedNewsletters)
	s.scheduler.ScheduleFollows(ctx, shortID, record.RecommendedUsers)

	if err := s.store.SetDormant(ctx, shortID, false); err != nil {
		return err
	}
	s.logger.Info("dormant newsletter activated", logger.String("short_id", shortID))
	return nil
}

func (s *Service) recordFailure(ctx context.Context, operation string, payload any, failure error) {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(fmt.Sprintf("%+v", payload))
	}
	entry := domain.NewFailureLogEntry(operation, string(body), failure.Error())
	if recErr := s.failures.Record(ctx, entry); recErr != nil {
		s.logger.Error("failure log write failed",
			logger.String("operation", operation),
			logger.Error(recErr))
	}
	s.metrics.FailuresLogged.WithLabelValues(operation).Inc()
}
