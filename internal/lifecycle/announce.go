package lifecycle

import (
	"context"
	"fmt"

	"github.com/hsrmk/skystack/internal/bluesky"
	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
)

// ListUpdateResult reports one list refresh: how many accounts were added
// and which handles failed.
type ListUpdateResult struct {
	Added         int      `json:"added"`
	Failed        int      `json:"failed"`
	FailedHandles []string `json:"failed_handles,omitempty"`
}

// CheckNewAnnouncements compares stored newsletters against the
// all-newsletters list and schedules announcement posts for the remainder,
// spread across the announce window.
func (s *Service) CheckNewAnnouncements(ctx context.Context) (map[string]string, error) {
	session, err := s.serviceSession(ctx)
	if err != nil {
		return nil, err
	}

	members, err := s.social.ListMembers(ctx, session, s.cfg.AllNewslettersList)
	if err != nil {
		s.recordFailure(ctx, domain.OpAnnounceCheck, nil, err)
		return nil, err
	}
	announced := make(map[string]bool, len(members))
	for _, handle := range members {
		announced[handle] = true
	}

	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []domain.AnnounceJob
	for i := range all {
		handle := s.social.Handle(all[i].ShortID)
		if announced[handle] {
			continue
		}
		jobs = append(jobs, domain.AnnounceJob{
			Handle:      handle,
			Name:        all[i].Name,
			Description: all[i].Description,
			URL:         all[i].CanonicalDomain,
		})
	}
	if len(jobs) == 0 {
		return map[string]string{}, nil
	}

	statuses := s.scheduler.ScheduleAnnouncements(ctx, jobs)
	s.logger.Info("announcements scheduled", logger.Int("count", len(jobs)))
	return statuses, nil
}

// Announce posts one newsletter announcement from the service account and
// adds the newsletter's account to the all-newsletters list. Duplicate
// delivery re-adds an existing member, which the list tolerates.
func (s *Service) Announce(ctx context.Context, job domain.AnnounceJob) error {
	if job.Handle == "" {
		return fmt.Errorf("%w: handle is required", domain.ErrValidation)
	}

	session, err := s.serviceSession(ctx)
	if err != nil {
		return err
	}

	item := domain.PostItem{
		Title:    "New on the network: " + job.Name,
		Subtitle: job.Description,
		Link:     job.URL,
		PostDate: s.now().UTC(),
	}
	if err := s.social.CreateLinkPost(ctx, session, item); err != nil {
		s.recordFailure(ctx, domain.OpAnnounce, job, err)
		return err
	}

	did, err := s.social.ResolveHandle(ctx, job.Handle)
	if err != nil {
		s.recordFailure(ctx, domain.OpAnnounce, job, err)
		return err
	}
	if err := s.social.AddToList(ctx, session, s.cfg.AllNewslettersList, did); err != nil {
		s.recordFailure(ctx, domain.OpAnnounce, job, err)
		return err
	}

	s.logger.Info("newsletter announced", logger.String("handle", job.Handle))
	return nil
}

// UpdateList refreshes one category list: the category's bestsellers that we
// mirror and that are not yet members get added, with per-handle failures
// collected rather than aborting the batch.
func (s *Service) UpdateList(ctx context.Context, job domain.UpdateListJob) (*ListUpdateResult, error) {
	if job.CategoryID == "" || job.ListURI == "" {
		return nil, fmt.Errorf("%w: id and list_uri are required", domain.ErrValidation)
	}

	bestsellers, err := s.source.CategoryBestsellers(ctx, s.cfg.RootURL, job.CategoryID, bestsellerLimit)
	if err != nil {
		s.metrics.UpstreamErrors.Inc()
		s.recordFailure(ctx, domain.OpUpdateList, job, err)
		return nil, err
	}

	session, err := s.serviceSession(ctx)
	if err != nil {
		return nil, err
	}
	members, err := s.social.ListMembers(ctx, session, job.ListURI)
	if err != nil {
		s.recordFailure(ctx, domain.OpUpdateList, job, err)
		return nil, err
	}
	existing := make(map[string]bool, len(members))
	for _, handle := range members {
		existing[handle] = true
	}

	result := &ListUpdateResult{}
	for _, shortID := range bestsellers {
		if _, getErr := s.store.Get(ctx, shortID); getErr != nil {
			continue // not mirrored
		}
		handle := s.social.Handle(shortID)
		if existing[handle] {
			continue
		}

		did, resolveErr := s.social.ResolveHandle(ctx, handle)
		if resolveErr == nil {
			resolveErr = s.social.AddToList(ctx, session, job.ListURI, did)
		}
		if resolveErr != nil {
			result.Failed++
			result.FailedHandles = append(result.FailedHandles, handle)
			s.logger.Warn("list add failed",
				logger.String("handle", handle),
				logger.String("list", job.Name),
				logger.Error(resolveErr))
			continue
		}
		result.Added++
	}

	s.logger.Info("category list updated",
		logger.String("list", job.Name),
		logger.Int("added", result.Added),
		logger.Int("failed", result.Failed))
	return result, nil
}

// UpdateAllLists spreads the given category-list refreshes across the
// list-update window.
func (s *Service) UpdateAllLists(ctx context.Context, jobs []domain.UpdateListJob) (map[string]string, error) {
	for _, job := range jobs {
		if job.CategoryID == "" || job.ListURI == "" {
			return nil, fmt.Errorf("%w: every list needs id and list_uri", domain.ErrValidation)
		}
	}
	return s.scheduler.ScheduleListUpdates(ctx, jobs), nil
}

func (s *Service) serviceSession(ctx context.Context) (*bluesky.Session, error) {
	session, err := s.social.LoginAs(ctx, s.cfg.ServiceHandle, s.cfg.ServicePassword)
	if err != nil {
		return nil, fmt.Errorf("open service session: %w", err)
	}
	return session, nil
}
