// Package scheduler spaces fan-out work across the task queue so the social
// network's rate limits are never hit in a burst.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
	"github.com/hsrmk/skystack/internal/metrics"
	"github.com/hsrmk/skystack/internal/tasks"
)

// Target paths jobs are delivered back to.
const (
	PathCreateDormant = "/newsletters/dormant"
	PathBuildGraph    = "/newsletters/graph"
	PathAddOlderPosts = "/newsletters/older-posts"
	PathResync        = "/newsletters/resync"
	PathFollowUser    = "/follow"
	PathAnnounce      = "/announce"
	PathUpdateList    = "/lists/update"
)

// DedupTracker remembers submitted job names.
type DedupTracker interface {
	Seen(ctx context.Context, jobName string) bool
	Mark(ctx context.Context, jobName string) error
}

// Config holds the spacing constants.
type Config struct {
	ExpansionSpacing   time.Duration
	FollowSpacing      time.Duration
	BackfillCooldown   time.Duration
	BackfillIterations int
	AnnounceWindow     time.Duration
	ListUpdateWindow   time.Duration
	CreateQueue        string
	BackfillQueue      string
}

// Scheduler submits spaced, deduplicated jobs.
type Scheduler struct {
	queue   tasks.Queue
	tracker DedupTracker
	cfg     Config
	metrics *metrics.Metrics
	logger  logger.Logger
	now     func() time.Time
}

// New creates a scheduler.
func New(queue tasks.Queue, tracker DedupTracker, cfg Config, m *metrics.Metrics, log logger.Logger) *Scheduler {
	return &Scheduler{
		queue:   queue,
		tracker: tracker,
		cfg:     cfg,
		metrics: m,
		logger:  log,
		now:     time.Now,
	}
}

// JobName builds the deterministic dedup name for an operation on a subject
// at a scheduled time.
func JobName(operation, subject string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", operation, subject, at.Unix())
}

// ScheduleExpansion fans out dormant-creation jobs for a newly discovered
// recommendation set. Job i is delayed by i*spacing so account creations land
// well under the provisioning rate limit.
func (s *Scheduler) ScheduleExpansion(ctx context.Context, recs []domain.RecommendedNewsletter) map[string]string {
	statuses := make(map[string]string, len(recs))
	base := s.now()

	for i, rec := range recs {
		delay := time.Duration(i) * s.cfg.ExpansionSpacing
		at := base.Add(delay)
		name := JobName(domain.OpCreateDormant, rec.ShortID, at)

		statuses[rec.ShortID] = s.submit(ctx, domain.OpCreateDormant, tasks.Job{
			Name:       name,
			QueueName:  s.cfg.CreateQueue,
			TargetPath: PathCreateDormant,
			Payload:    domain.DormantCreateJob{URL: canonicalURL(rec)},
			Delay:      delay,
		})
	}
	return statuses
}

// ScheduleGraphBuild submits the recommendation-graph build for a freshly
// provisioned newsletter. Runs immediately; the expansion it triggers is what
// gets spaced.
func (s *Scheduler) ScheduleGraphBuild(ctx context.Context, job domain.GraphJob) string {
	name := JobName(domain.OpUserGraph, job.ShortID, s.now())

	return s.submit(ctx, domain.OpUserGraph, tasks.Job{
		Name:       name,
		QueueName:  s.cfg.CreateQueue,
		TargetPath: PathBuildGraph,
		Payload:    job,
	})
}

// ScheduleResyncs submits one resync job per due newsletter. Per-job failures
// are reported in the returned statuses, never propagated.
func (s *Scheduler) ScheduleResyncs(ctx context.Context, jobs []domain.ResyncJob) map[string]string {
	statuses := make(map[string]string, len(jobs))
	base := s.now()

	for _, job := range jobs {
		name := JobName(domain.OpResyncNewsletter, job.ShortID, base)
		statuses[job.ShortID] = s.submit(ctx, domain.OpResyncNewsletter, tasks.Job{
			Name:       name,
			QueueName:  s.cfg.CreateQueue,
			TargetPath: PathResync,
			Payload:    job,
		})
	}
	return statuses
}

// ScheduleFollows fans out follow jobs for the recommended authors, one per
// follow-spacing interval.
func (s *Scheduler) ScheduleFollows(ctx context.Context, followerShortID string, users []domain.RecommendedUser) map[string]string {
	statuses := make(map[string]string, len(users))
	base := s.now()

	for i, user := range users {
		delay := time.Duration(i) * s.cfg.FollowSpacing
		at := base.Add(delay)
		name := JobName(domain.OpFollowUser, fmt.Sprintf("%s_%s", followerShortID, user.Handle), at)

		statuses[user.Handle] = s.submit(ctx, domain.OpFollowUser, tasks.Job{
			Name:       name,
			QueueName:  s.cfg.CreateQueue,
			TargetPath: PathFollowUser,
			Payload:    domain.FollowJob{User: user.Handle, FollowShortID: followerShortID},
			Delay:      delay,
		})
	}
	return statuses
}

// ScheduleBackfill resubmits a backfill continuation after the cooldown.
// Returns the submission status; an exhausted iteration budget reports
// skipped without touching the queue.
func (s *Scheduler) ScheduleBackfill(ctx context.Context, job domain.BackfillJob) string {
	if job.IterationsLeft <= 0 {
		s.logger.Info("backfill iteration budget exhausted",
			logger.String("short_id", job.ShortID))
		return tasks.StatusSkipped
	}

	at := s.now().Add(s.cfg.BackfillCooldown)
	name := JobName(domain.OpAddOlderPosts, job.ShortID, at)

	return s.submit(ctx, domain.OpAddOlderPosts, tasks.Job{
		Name:       name,
		QueueName:  s.cfg.BackfillQueue,
		TargetPath: PathAddOlderPosts,
		Payload:    job,
		Delay:      s.cfg.BackfillCooldown,
	})
}

// ScheduleAnnouncements spreads announcement posts evenly across the
// announce window: n jobs land at interval window/(n-1), the first
// immediately. A single job posts immediately.
func (s *Scheduler) ScheduleAnnouncements(ctx context.Context, jobs []domain.AnnounceJob) map[string]string {
	return s.spreadOverWindow(ctx, domain.OpAnnounce, s.cfg.AnnounceWindow, len(jobs),
		func(i int) (string, string, any) {
			return jobs[i].Handle, PathAnnounce, jobs[i]
		})
}

// ScheduleListUpdates spreads curation-list membership updates across the
// list-update window.
func (s *Scheduler) ScheduleListUpdates(ctx context.Context, jobs []domain.UpdateListJob) map[string]string {
	return s.spreadOverWindow(ctx, domain.OpUpdateList, s.cfg.ListUpdateWindow, len(jobs),
		func(i int) (string, string, any) {
			return jobs[i].CategoryID, PathUpdateList, jobs[i]
		})
}

func (s *Scheduler) spreadOverWindow(ctx context.Context, operation string, window time.Duration, n int, jobAt func(i int) (subject, path string, payload any)) map[string]string {
	statuses := make(map[string]string, n)
	if n == 0 {
		return statuses
	}

	var interval time.Duration
	if n > 1 {
		interval = window / time.Duration(n-1)
	}

	base := s.now()
	for i := 0; i < n; i++ {
		subject, path, payload := jobAt(i)
		delay := time.Duration(i) * interval
		name := JobName(operation, subject, base.Add(delay))

		statuses[subject] = s.submit(ctx, operation, tasks.Job{
			Name:       name,
			QueueName:  s.cfg.CreateQueue,
			TargetPath: path,
			Payload:    payload,
			Delay:      delay,
		})
	}
	return statuses
}

func (s *Scheduler) submit(ctx context.Context, operation string, job tasks.Job) string {
	if s.tracker != nil && s.tracker.Seen(ctx, job.Name) {
		s.metrics.JobsScheduled.WithLabelValues(operation, tasks.StatusDuplicate).Inc()
		return tasks.StatusDuplicate
	}

	status, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		s.logger.Error("job submission failed",
			logger.String("job_name", job.Name),
			logger.Error(err))
		s.metrics.JobsScheduled.WithLabelValues(operation, tasks.StatusFailed).Inc()
		return tasks.StatusFailed
	}

	if status == tasks.StatusSubmitted && s.tracker != nil {
		if err := s.tracker.Mark(ctx, job.Name); err != nil {
			s.logger.Warn("job submitted but not marked in dedup cache",
				logger.String("job_name", job.Name))
		}
	}
	s.metrics.JobsScheduled.WithLabelValues(operation, status).Inc()
	return status
}

func canonicalURL(rec domain.RecommendedNewsletter) string {
	if rec.CustomDomain != nil && *rec.CustomDomain != "" {
		return "https://" + *rec.CustomDomain
	}
	return fmt.Sprintf("https://%s.substack.com", rec.ShortID)
}
