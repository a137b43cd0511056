package mozellosync

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/ebooks_backend/config"
	"github.com/mmdatafocus/ebooks_backend/models"
	"github.com/mmdatafocus/ebooks_backend/mozello"
	"github.com/mmdatafocus/ebooks_backend/utils"
)

const importLockKey = "MozelloImportRun"

// ImportPaidOrders pulls the platform's order history for a date range and
// records every paid order line that is not already known. It reuses the
// webhook upsert path, so a range overlapping earlier runs (or earlier
// webhooks) only adds skips, never duplicates. Cancellation is honored
// between pages; work already committed stays committed.
func (s *Service) ImportPaidOrders(ctx context.Context, from *time.Time, to *time.Time) (*ImportSummary, error) {
	if s.orders == nil {
		return nil, mozello.ErrNotConfigured
	}

	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, importLockKey, 10*time.Minute, nil)
		if err == nil {
			defer lock.Release(ctx)
		} else if !errors.Is(err, redislock.ErrNotObtained) {
			config.LogError(s.logger, "mozellosync", "ImportPaidOrders", "obtain import lock", nil, err)
		}
	}

	summary := &ImportSummary{Errors: []ImportError{}}
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		remote, hasMore, err := s.orders.ListOrders(ctx, from, to, page)
		if err != nil {
			return summary, err
		}

		for _, order := range remote {
			summary.Fetched++
			if models.NormalizePaymentStatus(order.PaymentStatus) != models.PaymentStatusPaid {
				summary.Skipped++
				continue
			}
			if utils.NormalizeEmail(order.Email) == "" || len(order.Cart) == 0 {
				summary.Skipped++
				continue
			}

			upserted, created, err := s.ingestOrder(ctx, order)
			if err != nil {
				config.LogError(s.logger, "mozellosync", "ImportPaidOrders", "ingest order", order.ID, err)
				summary.Errors = append(summary.Errors, ImportError{
					EmailHash: utils.HashEmailForLog(order.Email),
					Handle:    firstHandle(order),
					Message:   err.Error(),
				})
				continue
			}
			summary.Imported += created
			summary.Skipped += upserted - created
		}

		if !hasMore {
			break
		}
	}
	return summary, nil
}

func firstHandle(order mozello.Order) string {
	for _, line := range order.Cart {
		if line.ProductHandle != "" {
			return line.ProductHandle
		}
	}
	return ""
}
