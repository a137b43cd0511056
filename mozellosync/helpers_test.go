package mozellosync

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/ebooks_backend/models"
	"github.com/mmdatafocus/ebooks_backend/mozello"
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
	if err := db.AutoMigrate(&models.MozelloOrder{}, &models.MozelloSettings{}, &models.MozelloNotificationLog{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// fakeBooks resolves lower-cased handles from a fixed map.
type fakeBooks struct {
	byHandle map[string]BookRef
}

func (f *fakeBooks) LookupByHandles(ctx context.Context, handles []string) (map[string]BookRef, error) {
	out := map[string]BookRef{}
	for _, h := range handles {
		key := strings.ToLower(strings.TrimSpace(h))
		if ref, ok := f.byHandle[key]; ok {
			out[key] = ref
		}
	}
	return out, nil
}

// fakeUsers resolves normalized emails from a fixed map and can mint
// accounts like the real directory does.
type fakeUsers struct {
	byEmail map[string]UserRef
	nextId  int
}

func (f *fakeUsers) LookupByEmails(ctx context.Context, emails []string) (map[string]UserRef, error) {
	out := map[string]UserRef{}
	for _, e := range emails {
		key := strings.ToLower(strings.TrimSpace(e))
		if ref, ok := f.byEmail[key]; ok {
			out[key] = ref
		}
	}
	return out, nil
}

func (f *fakeUsers) LookupByEmail(ctx context.Context, email string) (*UserRef, error) {
	m, err := f.LookupByEmails(ctx, []string{email})
	if err != nil {
		return nil, err
	}
	if ref, ok := m[strings.ToLower(strings.TrimSpace(email))]; ok {
		return &ref, nil
	}
	return nil, nil
}

func (f *fakeUsers) CreateAccountForEmail(ctx context.Context, email string) (*UserRef, string, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if f.byEmail == nil {
		f.byEmail = map[string]UserRef{}
	}
	f.nextId++
	ref := UserRef{UserId: 1000 + f.nextId, Email: key}
	f.byEmail[key] = ref
	return &ref, "generated-secret", nil
}

// fakeOrderLister serves canned pages and records how it was called.
type fakeOrderLister struct {
	pages    [][]mozello.Order
	calls    int
	onPage   func(page int)
	lastFrom *time.Time
	lastTo   *time.Time
}

func (f *fakeOrderLister) ListOrders(ctx context.Context, from *time.Time, to *time.Time, page int) ([]mozello.Order, bool, error) {
	f.calls++
	f.lastFrom, f.lastTo = from, to
	if f.onPage != nil {
		f.onPage(page)
	}
	if page < 1 || page > len(f.pages) {
		return nil, false, nil
	}
	return f.pages[page-1], page < len(f.pages), nil
}

func newTestService(t *testing.T, db *gorm.DB, books *fakeBooks, users *fakeUsers, lister OrderLister) *Service {
	t.Helper()
	if books == nil {
		books = &fakeBooks{byHandle: map[string]BookRef{}}
	}
	if users == nil {
		users = &fakeUsers{byEmail: map[string]UserRef{}}
	}
	return NewService(db, books, users, lister, "test-api-key")
}
