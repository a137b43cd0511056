package mozellosync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/ebooks_backend/config"
	"github.com/mmdatafocus/ebooks_backend/models"
	"github.com/sirupsen/logrus"
)

const reconcileLockKey = "MozelloReconcileSweep"

// Reconcile re-resolves the catalog links of the given records against the
// current catalog state. Handles and emails are looked up once per distinct
// value; only records whose resolution actually changed are written back. A
// lookup miss leaves the stored link as it is, so a transient catalog gap
// never wipes an existing link.
func (s *Service) Reconcile(ctx context.Context, orders []models.MozelloOrder) (int, error) {
	if len(orders) == 0 {
		return 0, nil
	}

	handleSet := make(map[string]struct{})
	emailSet := make(map[string]struct{})
	for _, o := range orders {
		handleSet[strings.ToLower(o.MzHandle)] = struct{}{}
		emailSet[o.Email] = struct{}{}
	}
	handles := make([]string, 0, len(handleSet))
	for h := range handleSet {
		handles = append(handles, h)
	}
	emails := make([]string, 0, len(emailSet))
	for e := range emailSet {
		emails = append(emails, e)
	}

	books, err := s.books.LookupByHandles(ctx, handles)
	if err != nil {
		return 0, err
	}
	users, err := s.users.LookupByEmails(ctx, emails)
	if err != nil {
		return 0, err
	}

	updates := make([]models.OrderLinkUpdate, 0, len(orders))
	touchedUsers := make(map[int]struct{})
	for i := range orders {
		o := &orders[i]
		update := models.OrderLinkUpdate{OrderId: o.ID}

		if ref, ok := books[strings.ToLower(o.MzHandle)]; ok {
			if o.CalibreBookId == nil || *o.CalibreBookId != ref.BookId {
				bookId := ref.BookId
				update.BookId = &bookId
			}
		}
		if ref, ok := users[o.Email]; ok {
			if o.CalibreUserId == nil || *o.CalibreUserId != ref.UserId {
				userId := ref.UserId
				update.UserId = &userId
			}
		}

		if update.BookId == nil && update.UserId == nil {
			continue
		}
		updates = append(updates, update)
		if update.UserId != nil {
			touchedUsers[*update.UserId] = struct{}{}
		}
		if o.CalibreUserId != nil {
			touchedUsers[*o.CalibreUserId] = struct{}{}
		}
	}

	if len(updates) == 0 {
		return 0, nil
	}
	if err := models.BulkUpdateOrderLinks(s.db, updates); err != nil {
		return 0, err
	}
	for userId := range touchedUsers {
		id := userId
		models.InvalidateEntitlementCache(&id)
	}

	s.logger.WithFields(logrus.Fields{
		"module":  "mozellosync",
		"func":    "Reconcile",
		"records": len(orders),
		"changed": len(updates),
	}).Info("reconciled order links")
	return len(updates), nil
}

// ReconcileAll sweeps every record. An advisory lock keeps concurrent sweeps
// from doubling the catalog load; with redis down the sweep runs unguarded,
// which is safe because link updates are idempotent.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, reconcileLockKey, 2*time.Minute, nil)
		if err == nil {
			defer lock.Release(ctx)
		} else if !errors.Is(err, redislock.ErrNotObtained) {
			config.LogError(s.logger, "mozellosync", "ReconcileAll", "obtain sweep lock", nil, err)
		}
	}

	orders, err := models.ListOrders(s.db)
	if err != nil {
		return 0, err
	}
	return s.Reconcile(ctx, orders)
}

func (s *Service) reconcileIds(ctx context.Context, ids []int) error {
	orders, err := models.ListOrdersByIds(s.db, ids)
	if err != nil {
		return err
	}
	_, err = s.Reconcile(ctx, orders)
	return err
}
