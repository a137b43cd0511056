package models

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&MozelloOrder{}, &MozelloSettings{}, &MozelloNotificationLog{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func TestCreateOrderIdempotent(t *testing.T) {
	db := newTestDB(t)

	first, created, err := CreateOrder(db, "Buyer@Example.COM ", "book-1", PaymentStatusPaid)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !created {
		t.Fatal("first create should report created=true")
	}
	if first.Email != "buyer@example.com" {
		t.Fatalf("email not normalized: %q", first.Email)
	}

	second, created, err := CreateOrder(db, "buyer@example.com", "book-1", PaymentStatusPaid)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("second create should report created=false")
	}
	if second.ID != first.ID {
		t.Fatalf("second create returned a different record: %d != %d", second.ID, first.ID)
	}

	var count int64
	db.Model(&MozelloOrder{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}

func TestCreateOrderDistinctHandles(t *testing.T) {
	db := newTestDB(t)

	if _, _, err := CreateOrder(db, "buyer@example.com", "book-1", PaymentStatusPaid); err != nil {
		t.Fatalf("create book-1: %v", err)
	}
	_, created, err := CreateOrder(db, "buyer@example.com", "book-2", PaymentStatusPaid)
	if err != nil {
		t.Fatalf("create book-2: %v", err)
	}
	if !created {
		t.Fatal("different handle for same email must create a new record")
	}
}

func TestCreateOrderValidation(t *testing.T) {
	db := newTestDB(t)

	if _, _, err := CreateOrder(db, "  ", "book-1", ""); err != ErrOrderEmailRequired {
		t.Fatalf("expected ErrOrderEmailRequired, got %v", err)
	}
	if _, _, err := CreateOrder(db, "buyer@example.com", "  ", ""); err != ErrOrderHandleRequired {
		t.Fatalf("expected ErrOrderHandleRequired, got %v", err)
	}
}

func TestUpsertOrderPaymentRefreshesStatus(t *testing.T) {
	db := newTestDB(t)

	first, _, err := UpsertOrderPayment(db, "buyer@example.com", "book-1", PaymentStatusPending)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.PaymentStatus != PaymentStatusPending {
		t.Fatalf("expected pending, got %q", first.PaymentStatus)
	}

	second, created, err := UpsertOrderPayment(db, "buyer@example.com", "book-1", PaymentStatusPaid)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatal("upsert of an existing key must not create")
	}
	if second.ID != first.ID {
		t.Fatalf("upsert returned a different record: %d != %d", second.ID, first.ID)
	}

	stored, err := GetOrder(db, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.PaymentStatus != PaymentStatusPaid {
		t.Fatalf("payment status not refreshed: %q", stored.PaymentStatus)
	}
}

func TestUpdateOrderLinksLeavesNilUnchanged(t *testing.T) {
	db := newTestDB(t)

	order, _, err := CreateOrder(db, "buyer@example.com", "book-1", PaymentStatusPaid)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	bookId := 7
	if err := UpdateOrderLinks(db, order.ID, nil, &bookId); err != nil {
		t.Fatalf("set book link: %v", err)
	}
	userId := 42
	if err := UpdateOrderLinks(db, order.ID, &userId, nil); err != nil {
		t.Fatalf("set user link: %v", err)
	}

	stored, err := GetOrder(db, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.CalibreBookId == nil || *stored.CalibreBookId != bookId {
		t.Fatalf("book link lost: %v", stored.CalibreBookId)
	}
	if stored.CalibreUserId == nil || *stored.CalibreUserId != userId {
		t.Fatalf("user link not set: %v", stored.CalibreUserId)
	}
}

func TestDeleteOrder(t *testing.T) {
	db := newTestDB(t)

	order, _, err := CreateOrder(db, "buyer@example.com", "book-1", PaymentStatusPaid)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := DeleteOrder(db, order.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report a removed row")
	}
	deleted, err = DeleteOrder(db, order.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Fatal("second delete must be a no-op")
	}
}

func TestUpsertTouchesUpdatedAtOnRedelivery(t *testing.T) {
	db := newTestDB(t)

	first, _, err := UpsertOrderPayment(db, "buyer@example.com", "book-1", PaymentStatusPaid)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	before := first.UpdatedAt

	time.Sleep(20 * time.Millisecond)

	// Identical status redelivery still moves updated_at.
	second, created, err := UpsertOrderPayment(db, "buyer@example.com", "book-1", PaymentStatusPaid)
	if err != nil {
		t.Fatalf("redelivery upsert: %v", err)
	}
	if created {
		t.Fatal("redelivery must not create")
	}
	if !second.UpdatedAt.After(before) {
		t.Fatalf("updated_at not refreshed: before=%s after=%s", before, second.UpdatedAt)
	}

	stored, err := GetOrder(db, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.UpdatedAt.After(before) {
		t.Fatalf("stored updated_at not refreshed: before=%s after=%s", before, stored.UpdatedAt)
	}
}
