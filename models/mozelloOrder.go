package models

import (
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/ebooks_backend/utils"
	"gorm.io/gorm"
)

// MozelloOrder grants reading entitlement for one catalog item to one buyer.
// (email, mz_handle) is the authoritative key; the calibre_* links are cached
// resolutions owned by the reconciler and may lag behind catalog state.
type MozelloOrder struct {
	ID            int       `gorm:"primary_key" json:"id"`
	Email         string    `gorm:"uniqueIndex:uq_mozello_order_email_handle,priority:1;size:255;not null" json:"email"`
	MzHandle      string    `gorm:"uniqueIndex:uq_mozello_order_email_handle,priority:2;size:255;not null" json:"mz_handle"`
	PaymentStatus string    `gorm:"size:20;not null;default:pending" json:"payment_status"`
	CalibreBookId *int      `gorm:"index" json:"calibre_book_id"`
	CalibreUserId *int      `gorm:"index" json:"calibre_user_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

var (
	ErrOrderEmailRequired  = errors.New("order email is required")
	ErrOrderHandleRequired = errors.New("order mz_handle is required")
)

// CreateOrder inserts an order record, idempotently on (email, mz_handle).
// A second create for the same key returns the existing record with
// created=false; a concurrent duplicate insert is absorbed the same way.
func CreateOrder(db *gorm.DB, email string, mzHandle string, paymentStatus string) (*MozelloOrder, bool, error) {
	emailNorm := utils.NormalizeEmail(email)
	if emailNorm == "" {
		return nil, false, ErrOrderEmailRequired
	}
	handle := strings.TrimSpace(mzHandle)
	if handle == "" {
		return nil, false, ErrOrderHandleRequired
	}
	if paymentStatus == "" {
		paymentStatus = PaymentStatusPending
	}

	if existing, err := getOrderByKey(db, emailNorm, handle); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	order := &MozelloOrder{
		Email:         emailNorm,
		MzHandle:      handle,
		PaymentStatus: paymentStatus,
	}
	if err := db.Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the race to a concurrent writer; the row now exists.
			existing, takeErr := getOrderByKey(db, emailNorm, handle)
			if takeErr != nil {
				return nil, false, takeErr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	return order, true, nil
}

// UpsertOrderPayment is the ingestion-path variant of CreateOrder: an
// existing record gets payment_status and updated_at refreshed in place
// instead of being left untouched. updated_at moves even when the status is
// unchanged, so a redelivery is visible in the record.
func UpsertOrderPayment(db *gorm.DB, email string, mzHandle string, paymentStatus string) (*MozelloOrder, bool, error) {
	order, created, err := CreateOrder(db, email, mzHandle, paymentStatus)
	if err != nil {
		return nil, false, err
	}
	if !created {
		now := time.Now().UTC()
		fields := map[string]interface{}{"updated_at": now}
		if paymentStatus != "" && order.PaymentStatus != paymentStatus {
			fields["payment_status"] = paymentStatus
		}
		if err := db.Model(order).Updates(fields).Error; err != nil {
			return nil, false, err
		}
		if paymentStatus != "" {
			order.PaymentStatus = paymentStatus
		}
		order.UpdatedAt = now
	}
	return order, created, nil
}

func getOrderByKey(db *gorm.DB, emailNorm string, handle string) (*MozelloOrder, error) {
	var order MozelloOrder
	err := db.Where("email = ? AND mz_handle = ?", emailNorm, handle).Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func GetOrder(db *gorm.DB, id int) (*MozelloOrder, error) {
	var order MozelloOrder
	err := db.Where("id = ?", id).Take(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

func ListOrders(db *gorm.DB) ([]MozelloOrder, error) {
	var orders []MozelloOrder
	if err := db.Order("id asc").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func ListOrdersByIds(db *gorm.DB, ids []int) ([]MozelloOrder, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var orders []MozelloOrder
	if err := db.Where("id IN ?", ids).Order("id asc").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// OrderLinkUpdate carries re-resolved links for one record. A nil id means
// "leave that link as it is": the reconciler never clears a cached link, it
// only replaces it when a fresh lookup succeeds.
type OrderLinkUpdate struct {
	OrderId int
	UserId  *int
	BookId  *int
}

// UpdateOrderLinks rewrites the cached links on a single record.
func UpdateOrderLinks(db *gorm.DB, id int, userId *int, bookId *int) error {
	return BulkUpdateOrderLinks(db, []OrderLinkUpdate{{OrderId: id, UserId: userId, BookId: bookId}})
}

// BulkUpdateOrderLinks applies a reconciliation batch in one transaction, so
// a full sweep does not pay a commit per row.
func BulkUpdateOrderLinks(db *gorm.DB, updates []OrderLinkUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, u := range updates {
			fields := map[string]interface{}{"updated_at": now}
			if u.UserId != nil {
				fields["calibre_user_id"] = *u.UserId
			}
			if u.BookId != nil {
				fields["calibre_book_id"] = *u.BookId
			}
			if len(fields) == 1 {
				continue
			}
			if err := tx.Model(&MozelloOrder{}).Where("id = ?", u.OrderId).Updates(fields).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteOrder removes a record, revoking the local entitlement. It never
// calls the commerce platform.
func DeleteOrder(db *gorm.DB, id int) (bool, error) {
	res := db.Where("id = ?", id).Delete(&MozelloOrder{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
