package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/coursepass/coursepass-backend/internal/orders"
	"github.com/coursepass/coursepass-backend/pkg/db/models"
	"github.com/coursepass/coursepass-backend/pkg/enums"
	"github.com/coursepass/coursepass-backend/pkg/logger"
)

const (
	// Orders pending this long with no provider notification are treated as
	// abandoned checkouts. The synchronous path never fails an order on its
	// own timeout, so only this sweep closes them out.
	defaultAbandonAfter = 7 * 24 * time.Hour

	abandonReason = "checkout abandoned"
)

// PendingOrderJobParams configure the stale pending-order sweep.
type PendingOrderJobParams struct {
	Logger       *logger.Logger
	OrderRepo    orders.Repository
	AbandonAfter time.Duration
	Batch        int
}

// NewPendingOrderJob builds the cron job that fails long-abandoned orders.
func NewPendingOrderJob(params PendingOrderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.OrderRepo == nil {
		return nil, fmt.Errorf("order repo required")
	}
	abandonAfter := params.AbandonAfter
	if abandonAfter <= 0 {
		abandonAfter = defaultAbandonAfter
	}
	return &pendingOrderJob{
		logg:         params.Logger,
		repo:         params.OrderRepo,
		abandonAfter: abandonAfter,
		batch:        params.Batch,
		now:          time.Now,
	}, nil
}

type pendingOrderJob struct {
	logg         *logger.Logger
	repo         orders.Repository
	abandonAfter time.Duration
	batch        int
	now          func() time.Time
}

func (j *pendingOrderJob) Name() string { return "pending-order-sweep" }

func (j *pendingOrderJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.abandonAfter)
	stale, err := j.repo.ListPendingOlderThan(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query stale pending orders: %w", err)
	}

	count := 0
	for _, order := range stale {
		changed, err := j.failAbandoned(ctx, order)
		if err != nil {
			return err
		}
		if changed {
			count++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count})
	j.logg.Info(logCtx, "pending order sweep complete")
	return nil
}

func (j *pendingOrderJob) failAbandoned(ctx context.Context, order models.Order) (bool, error) {
	// Status guard: a webhook completing the order between the query and
	// this write wins, and the write becomes a no-op.
	changed, err := j.repo.UpdateStatusIf(ctx, order.ID,
		[]enums.OrderStatus{enums.OrderStatusPending},
		enums.OrderStatusFailed,
		map[string]any{"failure_reason": abandonReason},
	)
	if err != nil {
		return false, fmt.Errorf("fail abandoned order %s: %w", order.ID, err)
	}
	return changed, nil
}
