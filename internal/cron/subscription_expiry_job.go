package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/coursepass/coursepass-backend/internal/subscriptions"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	"github.com/coursepass/coursepass-backend/pkg/logger"
)

// SubscriptionExpiryJobParams configure the lapsed-subscription sweep.
type SubscriptionExpiryJobParams struct {
	Logger *logger.Logger
	Repo   subscriptions.Repository
	Batch  int
}

// NewSubscriptionExpiryJob builds the cron job that flips lapsed active
// subscriptions to expired. Access checks already exclude lapsed windows at
// read time; this sweep keeps the stored status in line for reporting.
func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("subscription repo required")
	}
	return &subscriptionExpiryJob{
		logg:  params.Logger,
		repo:  params.Repo,
		batch: params.Batch,
		now:   time.Now,
	}, nil
}

type subscriptionExpiryJob struct {
	logg  *logger.Logger
	repo  subscriptions.Repository
	batch int
	now   func() time.Time
}

func (j *subscriptionExpiryJob) Name() string { return "subscription-expiry" }

func (j *subscriptionExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	lapsed, err := j.repo.ListLapsedActive(ctx, now, j.batch)
	if err != nil {
		return fmt.Errorf("query lapsed subscriptions: %w", err)
	}

	var errs []error
	count := 0
	for _, sub := range lapsed {
		changed, err := j.repo.UpdateStatusIf(ctx, sub.ID,
			[]enums.SubscriptionStatus{enums.SubscriptionStatusActive},
			enums.SubscriptionStatusExpired, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire subscription %s: %w", sub.ID, err))
			continue
		}
		if changed {
			count++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count})
	j.logg.Info(logCtx, "subscription expiry sweep complete")
	return multierr.Combine(errs...)
}
