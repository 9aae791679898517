package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
)

// reversalStep is one independently fallible compensation action.
type reversalStep struct {
	name string
	run  func(ctx context.Context) error
}

// compensate reverses the externally visible side effects of a failed
// provisioning flow: the created account and any partial record are deleted,
// a failure-log entry is written carrying the original error plus any
// reversal failures, and the original error is surfaced unchanged in meaning.
// Attempted at most once per failed operation; steps do not retry.
func (s *Service) compensate(ctx context.Context, operation string, payload any, shortID, did string, original error) error {
	s.logger.Warn("compensating failed provisioning",
		logger.String("operation", operation),
		logger.String("short_id", shortID),
		logger.Error(original))
	s.metrics.Compensations.Inc()

	steps := []reversalStep{
		{
			name: "delete account",
			run: func(ctx context.Context) error {
				if did == "" {
					return nil
				}
				return s.social.DeleteAccount(ctx, did, s.cfg.AdminPassword)
			},
		},
		{
			name: "delete record",
			run: func(ctx context.Context) error {
				// Losing the insert race means another flow owns the record;
				// deleting it here would destroy the winner's state.
				if errors.Is(original, domain.ErrAlreadyExists) {
					return nil
				}
				return s.store.Delete(ctx, shortID)
			},
		},
	}

	var secondary []string
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			secondary = append(secondary, fmt.Sprintf("%s: %v", step.name, err))
			s.logger.Error("reversal step failed",
				logger.String("step", step.name),
				logger.String("short_id", shortID),
				logger.Error(err))
		}
	}

	errText := original.Error()
	if len(secondary) > 0 {
		errText += "; reversal failures: " + strings.Join(secondary, "; ")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(fmt.Sprintf("%+v", payload))
	}
	entry := domain.NewFailureLogEntry(operation, string(body), errText)
	if recErr := s.failures.Record(ctx, entry); recErr != nil {
		s.logger.Error("failure log write failed during compensation",
			logger.String("operation", operation),
			logger.Error(recErr))
	}
	s.metrics.FailuresLogged.WithLabelValues(operation).Inc()

	return original
}
