package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
	"github.com/hsrmk/skystack/internal/metrics"
	"github.com/hsrmk/skystack/internal/tasks"
)

type fakeQueue struct {
	jobs []tasks.Job
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, job tasks.Job) (string, error) {
	if f.err != nil {
		return tasks.StatusFailed, f.err
	}
	f.jobs = append(f.jobs, job)
	return tasks.StatusSubmitted, nil
}

type fakeTracker struct {
	seen   map[string]bool
	marked []string
}

func (f *fakeTracker) Seen(_ context.Context, name string) bool { return f.seen[name] }
func (f *fakeTracker) Mark(_ context.Context, name string) error {
	f.marked = append(f.marked, name)
	return nil
}

func newTestScheduler(queue tasks.Queue, tracker DedupTracker) *Scheduler {
	s := New(queue, tracker, Config{
		ExpansionSpacing:   45 * time.Second,
		FollowSpacing:      30 * time.Minute,
		BackfillCooldown:   time.Hour,
		BackfillIterations: 10,
		AnnounceWindow:     48 * time.Hour,
		ListUpdateWindow:   24 * time.Hour,
		CreateQueue:        "create-and-build",
		BackfillQueue:      "old-posts-import",
	}, metrics.NewUnregistered(), logger.NewNopLogger())
	s.now = func() time.Time { return time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestScheduleExpansion_SpacesJobs(t *testing.T) {
	queue := &fakeQueue{}
	s := newTestScheduler(queue, &fakeTracker{seen: map[string]bool{}})

	custom := "letters.example.com"
	recs := []domain.RecommendedNewsletter{
		{ShortID: "a"},
		{ShortID: "b", CustomDomain: &custom},
		{ShortID: "c"},
	}
	statuses := s.ScheduleExpansion(context.Background(), recs)

	require.Len(t, queue.jobs, 3)
	assert.Equal(t, time.Duration(0), queue.jobs[0].Delay)
	assert.Equal(t, 45*time.Second, queue.jobs[1].Delay)
	assert.Equal(t, 90*time.Second, queue.jobs[2].Delay)

	assert.Equal(t, domain.DormantCreateJob{URL: "https://a.substack.com"}, queue.jobs[0].Payload)
	assert.Equal(t, domain.DormantCreateJob{URL: "https://letters.example.com"}, queue.jobs[1].Payload)

	for _, st := range statuses {
		assert.Equal(t, tasks.StatusSubmitted, st)
	}
}

func TestScheduleFollows_UsesFollowSpacing(t *testing.T) {
	queue := &fakeQueue{}
	s := newTestScheduler(queue, &fakeTracker{seen: map[string]bool{}})

	users := []domain.RecommendedUser{
		{Handle: "ann"}, {Handle: "bob"},
	}
	s.ScheduleFollows(context.Background(), "techletters", users)

	require.Len(t, queue.jobs, 2)
	assert.Equal(t, time.Duration(0), queue.jobs[0].Delay)
	assert.Equal(t, 30*time.Minute, queue.jobs[1].Delay)
	assert.Equal(t, PathFollowUser, queue.jobs[0].TargetPath)
}

func TestScheduleBackfill_RespectsIterationBudget(t *testing.T) {
	queue := &fakeQueue{}
	s := newTestScheduler(queue, &fakeTracker{seen: map[string]bool{}})

	status := s.ScheduleBackfill(context.Background(), domain.BackfillJob{
		ShortID:        "techletters",
		OldestPostDate: "2024-01-01T00:00:00.000Z",
		IterationsLeft: 3,
	})

	assert.Equal(t, tasks.StatusSubmitted, status)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, time.Hour, queue.jobs[0].Delay)
	assert.Equal(t, "old-posts-import", queue.jobs[0].QueueName)

	// Exhausted budget never reaches the queue.
	status = s.ScheduleBackfill(context.Background(), domain.BackfillJob{
		ShortID:        "techletters",
		IterationsLeft: 0,
	})
	assert.Equal(t, tasks.StatusSkipped, status)
	assert.Len(t, queue.jobs, 1)
}

func TestScheduleAnnouncements_SpreadsOverWindow(t *testing.T) {
	queue := &fakeQueue{}
	s := newTestScheduler(queue, &fakeTracker{seen: map[string]bool{}})

	jobs := make([]domain.AnnounceJob, 5)
	for i := range jobs {
		jobs[i] = domain.AnnounceJob{Handle: string(rune('a' + i))}
	}
	s.ScheduleAnnouncements(context.Background(), jobs)

	require.Len(t, queue.jobs, 5)
	// 5 jobs across 48h: 0, 12h, 24h, 36h, 48h.
	for i, want := range []time.Duration{0, 12 * time.Hour, 24 * time.Hour, 36 * time.Hour, 48 * time.Hour} {
		assert.Equal(t, want, queue.jobs[i].Delay)
	}
}

func TestScheduleAnnouncements_SingleJobIsImmediate(t *testing.T) {
	queue := &fakeQueue{}
	s := newTestScheduler(queue, &fakeTracker{seen: map[string]bool{}})

	s.ScheduleAnnouncements(context.Background(), []domain.AnnounceJob{{Handle: "solo"}})

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, time.Duration(0), queue.jobs[0].Delay)
}

func TestSubmit_SkipsSeenJobs(t *testing.T) {
	queue := &fakeQueue{}
	tracker := &fakeTracker{seen: map[string]bool{}}
	s := newTestScheduler(queue, tracker)

	at := s.now()
	tracker.seen[JobName(domain.OpCreateDormant, "a", at)] = true

	statuses := s.ScheduleExpansion(context.Background(), []domain.RecommendedNewsletter{
		{ShortID: "a"}, {ShortID: "b"},
	})

	assert.Equal(t, tasks.StatusDuplicate, statuses["a"])
	assert.Equal(t, tasks.StatusSubmitted, statuses["b"])
	require.Len(t, queue.jobs, 1)
	assert.Len(t, tracker.marked, 1)
}

func TestSubmit_QueueErrorIsFailedStatus(t *testing.T) {
	queue := &fakeQueue{err: errors.New("queue down")}
	s := newTestScheduler(queue, &fakeTracker{seen: map[string]bool{}})

	statuses := s.ScheduleExpansion(context.Background(), []domain.RecommendedNewsletter{{ShortID: "a"}})
	assert.Equal(t, tasks.StatusFailed, statuses["a"])
}

func TestJobName_Deterministic(t *testing.T) {
	at := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "createDormantNewsletter_techletters_1754049600",
		JobName(domain.OpCreateDormant, "techletters", at))
}
