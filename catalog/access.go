package catalog

import (
	"context"

	"github.com/mmdatafocus/ebooks_backend/models"
	"gorm.io/gorm"
)

// AccessibleBookIds is what the catalog surface calls per page view: the
// union of the user's purchased entitlements and the catalog's free books.
// Price semantics stay on this side; the entitlement calculator only knows
// about resolved purchase links.
func AccessibleBookIds(ctx context.Context, ordersDB *gorm.DB, lib *Library, userId int, requirePaid bool) (map[int]struct{}, error) {
	purchased, err := models.PurchasedBookIdsCached(ordersDB, userId, requirePaid)
	if err != nil {
		return nil, err
	}
	free, err := lib.FreeBookIds(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int]struct{}, len(purchased)+len(free))
	for id := range free {
		out[id] = struct{}{}
	}
	for id := range purchased {
		out[id] = struct{}{}
	}
	return out, nil
}
