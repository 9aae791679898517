package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/hsrmk/skystack/internal/cadence"
	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
	"github.com/hsrmk/skystack/internal/substack"
)

// ResyncNewsletter imports everything published since the newsletter's last
// sync and folds the new dates into the cadence estimate. Safe under
// duplicate delivery: a second run finds nothing newer than the advanced
// watermark.
func (s *Service) ResyncNewsletter(ctx context.Context, job domain.ResyncJob) (int, error) {
	record, err := s.store.Get(ctx, job.ShortID)
	if err != nil {
		return 0, err
	}

	items, _, err := s.feed.FetchLatestPosts(ctx, record.CanonicalDomain, record.LastSyncAt)
	if err != nil {
		s.metrics.UpstreamErrors.Inc()
		s.recordFailure(ctx, domain.OpResyncNewsletter, job, err)
		return 0, err
	}
	if len(items) == 0 {
		s.logger.Debug("nothing new since last sync", logger.String("short_id", job.ShortID))
		return 0, nil
	}

	session, err := s.social.Login(ctx, job.ShortID)
	if err != nil {
		return 0, fmt.Errorf("open session for %s: %w", job.ShortID, err)
	}

	imported, importedDates := s.importItems(ctx, session, job.ShortID, items, "resync")
	if imported == 0 {
		err := fmt.Errorf("%w: %d posts attempted for %s", domain.ErrNoContentImported, len(items), job.ShortID)
		s.recordFailure(ctx, domain.OpResyncNewsletter, job, err)
		return 0, err
	}

	estimate := cadence.Update(cadence.Estimate{
		Count:         record.PostsImported,
		FrequencyDays: record.PostFrequencyDays,
		Watermark:     record.LastSyncAt,
	}, importedDates)

	if err := s.store.UpdateSyncState(ctx, job.ShortID, estimate.Watermark, estimate.Count, estimate.FrequencyDays); err != nil {
		s.recordFailure(ctx, domain.OpResyncNewsletter, job, err)
		return imported, err
	}

	s.logger.Info("newsletter resynced",
		logger.String("short_id", job.ShortID),
		logger.Int("imported", imported))
	return imported, nil
}

// ImportOlderPosts runs one bounded backfill batch and, when older posts
// remain and the iteration budget allows, schedules the continuation with
// the new oldest watermark.
func (s *Service) ImportOlderPosts(ctx context.Context, job domain.BackfillJob) (int, error) {
	record, err := s.store.Get(ctx, job.ShortID)
	if err != nil {
		return 0, err
	}

	olderThan := record.LastSyncAt
	if job.OldestPostDate != "" {
		parsed, parseErr := time.Parse(time.RFC3339, job.OldestPostDate)
		if parseErr != nil {
			return 0, fmt.Errorf("%w: bad oldest_post_date %q", domain.ErrValidation, job.OldestPostDate)
		}
		olderThan = parsed
	} else if record.OldestPostDate != nil {
		olderThan = *record.OldestPostDate
	}

	items, err := s.feed.FetchOlderPosts(ctx, record.CanonicalDomain, olderThan)
	if err != nil {
		s.metrics.UpstreamErrors.Inc()
		s.recordFailure(ctx, domain.OpAddOlderPosts, job, err)
		return 0, err
	}
	if len(items) == 0 {
		s.logger.Info("backfill complete, no older posts remain",
			logger.String("short_id", job.ShortID))
		return 0, nil
	}

	batch := items
	remaining := false
	if len(items) > backfillBatchSize {
		batch = items[:backfillBatchSize]
		remaining = true
	}

	session, err := s.social.Login(ctx, job.ShortID)
	if err != nil {
		return 0, fmt.Errorf("open session for %s: %w", job.ShortID, err)
	}

	imported, dates := s.importItems(ctx, session, job.ShortID, batch, "backfill")
	if imported == 0 {
		err := fmt.Errorf("%w: %d posts attempted for %s", domain.ErrNoContentImported, len(batch), job.ShortID)
		s.recordFailure(ctx, domain.OpAddOlderPosts, job, err)
		return 0, err
	}

	newOldest := batch[len(batch)-1].PostDate
	if len(dates) > 0 && dates[len(dates)-1].Before(newOldest) {
		newOldest = dates[len(dates)-1]
	}
	if err := s.store.AdvanceBackfill(ctx, job.ShortID, imported, newOldest); err != nil {
		s.recordFailure(ctx, domain.OpAddOlderPosts, job, err)
		return imported, err
	}

	if remaining {
		s.scheduler.ScheduleBackfill(ctx, domain.BackfillJob{
			ShortID:        job.ShortID,
			OldestPostDate: substack.FormatISOZ(newOldest),
			IterationsLeft: job.IterationsLeft - 1,
		})
	}

	s.logger.Info("backfill batch imported",
		logger.String("short_id", job.ShortID),
		logger.Int("imported", imported),
		logger.Bool("remaining", remaining))
	return imported, nil
}

// CheckDueResyncs scans for newsletters whose next expected post is overdue
// and enqueues one resync job per hit. Per-job submission failures land in
// the returned statuses, never abort the scan.
func (s *Service) CheckDueResyncs(ctx context.Context) (map[string]string, error) {
	due, err := s.store.ListDueForResync(ctx, s.now())
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return map[string]string{}, nil
	}
	s.metrics.ResyncsDue.Add(float64(len(due)))

	jobs := make([]domain.ResyncJob, 0, len(due))
	for i := range due {
		jobs = append(jobs, domain.ResyncJob{
			ShortID:           due[i].ShortID,
			LastSyncAt:        substack.FormatISOZ(due[i].LastSyncAt),
			PostsImported:     due[i].PostsImported,
			PostFrequencyDays: due[i].PostFrequencyDays,
		})
	}

	statuses := s.scheduler.ScheduleResyncs(ctx, jobs)
	s.logger.Info("due-for-resync scan complete", logger.Int("due", len(due)))
	return statuses, nil
}

// BuildUserGraph discovers the recommendation set for a newsletter, persists
// it, and — for active newsletters — fans out dormant expansion and follow
// edges.
func (s *Service) BuildUserGraph(ctx context.Context, job domain.GraphJob) error {
	record, err := s.store.Get(ctx, job.ShortID)
	if err != nil {
		return err
	}

	newsletters, users, err := s.source.Recommendations(ctx, record.CanonicalDomain, job.PublicationID)
	if err != nil {
		s.metrics.UpstreamErrors.Inc()
		s.recordFailure(ctx, domain.OpUserGraph, job, err)
		return err
	}
	if len(users) == 0 {
		// Recommendation authors can be hidden; fall back to the
		// publication's own ranked users.
		if ranked, rankErr := s.source.RankedUsers(ctx, record.CanonicalDomain, rankedUserLimit); rankErr == nil {
			users = ranked
		}
	}

	if err := s.store.UpdateGraph(ctx, job.ShortID, newsletters, users); err != nil {
		s.recordFailure(ctx, domain.OpUserGraph, job, err)
		return err
	}

	if !job.IsDormant {
		s.scheduler.ScheduleExpansion(ctx, newsletters)
		s.scheduler.ScheduleFollows(ctx, job.ShortID, users)
	}

	s.logger.Info("recommendation graph stored",
		logger.String("short_id", job.ShortID),
		logger.Int("newsletters", len(newsletters)),
		logger.Int("users", len(users)))
	return nil
}

// FollowUser creates one follow edge from a mirrored account to a subject
// handle. Handles without a dot are treated as short ids of mirrored
// accounts.
func (s *Service) FollowUser(ctx context.Context, job domain.FollowJob) error {
	if job.User == "" || job.FollowShortID == "" {
		return fmt.Errorf("%w: user and to_follow_short_id are required", domain.ErrValidation)
	}

	session, err := s.social.Login(ctx, job.FollowShortID)
	if err != nil {
		return fmt.Errorf("open session for %s: %w", job.FollowShortID, err)
	}

	handle := job.User
	if !containsDot(handle) {
		handle = s.social.Handle(handle)
	}
	did, err := s.social.ResolveHandle(ctx, handle)
	if err != nil {
		s.recordFailure(ctx, domain.OpFollowUser, job, err)
		return err
	}

	if err := s.social.Follow(ctx, session, did); err != nil {
		s.recordFailure(ctx, domain.OpFollowUser, job, err)
		return err
	}
	return nil
}

func containsDot(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return true
		}
	}
	return false
}
