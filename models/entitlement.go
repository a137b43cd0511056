package models

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/ebooks_backend/config"
	"gorm.io/gorm"
)

const entitlementCacheTTL = 5 * time.Minute

// PurchasedBookIds returns the catalog item ids a user is entitled to via
// purchase: the non-null calibre_book_id of every order resolved to that
// user. With requirePaid, orders whose payment_status is not "paid" do not
// grant. Backed by the calibre_user_id index; a user with no orders gets an
// empty set, never an error.
func PurchasedBookIds(db *gorm.DB, userId int, requirePaid bool) (map[int]struct{}, error) {
	q := db.Model(&MozelloOrder{}).
		Where("calibre_user_id = ? AND calibre_book_id IS NOT NULL", userId)
	if requirePaid {
		q = q.Where("payment_status = ?", PaymentStatusPaid)
	}
	var bookIds []int
	if err := q.Pluck("calibre_book_id", &bookIds).Error; err != nil {
		return nil, err
	}
	out := make(map[int]struct{}, len(bookIds))
	for _, id := range bookIds {
		out[id] = struct{}{}
	}
	return out, nil
}

// PurchasedBookIdsCached is the hot-path variant backing catalog page
// views. The redis cache is best-effort: with redis down it degrades to the
// indexed query above.
func PurchasedBookIdsCached(db *gorm.DB, userId int, requirePaid bool) (map[int]struct{}, error) {
	key := entitlementCacheKey(userId, requirePaid)
	var cached []int
	if found, err := config.GetRedisObject(key, &cached); err == nil && found {
		out := make(map[int]struct{}, len(cached))
		for _, id := range cached {
			out[id] = struct{}{}
		}
		return out, nil
	}

	out, err := PurchasedBookIds(db, userId, requirePaid)
	if err != nil {
		return nil, err
	}
	flat := make([]int, 0, len(out))
	for id := range out {
		flat = append(flat, id)
	}
	_ = config.SetRedisObject(key, flat, entitlementCacheTTL)
	return out, nil
}

// InvalidateEntitlementCache drops cached purchase sets for a user after an
// order mutation touching that user's records. Best-effort; the TTL bounds
// staleness when redis is unreachable or the user id is unknown.
func InvalidateEntitlementCache(userId *int) {
	if userId == nil {
		return
	}
	_ = config.RemoveRedisKey(
		entitlementCacheKey(*userId, true),
		entitlementCacheKey(*userId, false),
	)
}

func entitlementCacheKey(userId int, requirePaid bool) string {
	return fmt.Sprintf("MozelloEntitlement:%d:%t", userId, requirePaid)
}
