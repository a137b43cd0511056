package mozellosync

import (
	"context"
	"testing"

	"github.com/mmdatafocus/ebooks_backend/models"
)

func TestReconcileLeavesUnresolvedNull(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, nil, nil, nil)

	order, _, err := models.CreateOrder(db, "b@example.com", "book-1", models.PaymentStatusPaid)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	changed, err := svc.ReconcileAll(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if changed != 0 {
		t.Fatalf("nothing resolvable, expected 0 changes, got %d", changed)
	}

	stored, err := models.GetOrder(db, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.CalibreBookId != nil || stored.CalibreUserId != nil {
		t.Fatalf("unresolved links must stay null: %+v", stored)
	}
}

func TestReconcileLinksWhenCatalogCatchesUp(t *testing.T) {
	db := newTestDB(t)
	books := &fakeBooks{byHandle: map[string]BookRef{}}
	users := &fakeUsers{byEmail: map[string]UserRef{}}
	svc := newTestService(t, db, books, users, nil)

	order, _, err := models.CreateOrder(db, "b@example.com", "Book-1", models.PaymentStatusPaid)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}

	// Catalog catches up: the book gets exported, the buyer registers.
	books.byHandle["book-1"] = BookRef{BookId: 7}
	users.byEmail["b@example.com"] = UserRef{UserId: 42}

	changed, err := svc.ReconcileAll(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected 1 changed record, got %d", changed)
	}

	stored, err := models.GetOrder(db, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.CalibreBookId == nil || *stored.CalibreBookId != 7 {
		t.Fatalf("book link not set: %v", stored.CalibreBookId)
	}
	if stored.CalibreUserId == nil || *stored.CalibreUserId != 42 {
		t.Fatalf("user link not set: %v", stored.CalibreUserId)
	}

	// Already converged; a further sweep writes nothing.
	changed, err = svc.ReconcileAll(context.Background())
	if err != nil {
		t.Fatalf("third sweep: %v", err)
	}
	if changed != 0 {
		t.Fatalf("converged sweep must change 0 records, got %d", changed)
	}
}

func TestReconcileNeverClearsLinks(t *testing.T) {
	db := newTestDB(t)
	books := &fakeBooks{byHandle: map[string]BookRef{"book-1": {BookId: 7}}}
	users := &fakeUsers{byEmail: map[string]UserRef{"b@example.com": {UserId: 42}}}
	svc := newTestService(t, db, books, users, nil)

	order, _, err := models.CreateOrder(db, "b@example.com", "book-1", models.PaymentStatusPaid)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("link sweep: %v", err)
	}

	// Catalog lookup goes dark (book unexported, account renamed). The
	// cached links must survive.
	books.byHandle = map[string]BookRef{}
	users.byEmail = map[string]UserRef{}

	if _, err := svc.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("dark sweep: %v", err)
	}
	stored, err := models.GetOrder(db, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.CalibreBookId == nil || stored.CalibreUserId == nil {
		t.Fatalf("lookup miss must not clear links: %+v", stored)
	}
}
