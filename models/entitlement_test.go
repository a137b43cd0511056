package models

import "testing"

func TestPurchasedBookIds(t *testing.T) {
	db := newTestDB(t)

	userA := 10
	seed := []struct {
		email  string
		handle string
		status string
		book   *int
		user   *int
	}{
		{"a@example.com", "paid-linked", PaymentStatusPaid, intPtr(3), &userA},
		{"a@example.com", "pending-linked", PaymentStatusPending, intPtr(5), &userA},
		{"a@example.com", "paid-unlinked", PaymentStatusPaid, nil, &userA},
		{"b@example.com", "other-user", PaymentStatusPaid, intPtr(9), intPtr(11)},
	}
	for _, s := range seed {
		order, _, err := CreateOrder(db, s.email, s.handle, s.status)
		if err != nil {
			t.Fatalf("seed %s: %v", s.handle, err)
		}
		if err := UpdateOrderLinks(db, order.ID, s.user, s.book); err != nil {
			t.Fatalf("link %s: %v", s.handle, err)
		}
	}

	paidOnly, err := PurchasedBookIds(db, userA, true)
	if err != nil {
		t.Fatalf("paid-only: %v", err)
	}
	if len(paidOnly) != 1 {
		t.Fatalf("paid-only: expected {3}, got %v", paidOnly)
	}
	if _, ok := paidOnly[3]; !ok {
		t.Fatalf("paid-only: expected book 3, got %v", paidOnly)
	}

	anyStatus, err := PurchasedBookIds(db, userA, false)
	if err != nil {
		t.Fatalf("any-status: %v", err)
	}
	if len(anyStatus) != 2 {
		t.Fatalf("any-status: expected {3,5}, got %v", anyStatus)
	}

	unknown, err := PurchasedBookIds(db, 9999, true)
	if err != nil {
		t.Fatalf("unknown user: %v", err)
	}
	if len(unknown) != 0 {
		t.Fatalf("unknown user must get an empty set, got %v", unknown)
	}
}

func intPtr(v int) *int { return &v }
