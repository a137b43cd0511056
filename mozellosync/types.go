package mozellosync

import (
	"time"

	"github.com/mmdatafocus/ebooks_backend/models"
)

// OrderView is the admin-facing rendering of one order record, with the
// resolved catalog links expanded. Missing links are normal ("not yet
// linked"), not faults.
type OrderView struct {
	ID            int       `json:"id"`
	Email         string    `json:"email"`
	MzHandle      string    `json:"mz_handle"`
	PaymentStatus string    `json:"payment_status"`
	CalibreBook   *BookRef  `json:"calibre_book"`
	CalibreUser   *UserRef  `json:"calibre_user"`
	BookMissing   bool      `json:"book_missing"`
	UserMissing   bool      `json:"user_missing"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ListSummary struct {
	Total       int `json:"total"`
	LinkedBooks int `json:"linked_books"`
	LinkedUsers int `json:"linked_users"`
}

type OrderListResult struct {
	Orders  []OrderView `json:"orders"`
	Summary ListSummary `json:"summary"`
}

// ImportSummary reports one import run. Re-running an overlapping date
// range is safe: already-known (email, handle) pairs count as skipped.
type ImportSummary struct {
	Fetched  int           `json:"fetched"`
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

type ImportError struct {
	EmailHash string `json:"email_hash"`
	Handle    string `json:"handle"`
	Message   string `json:"message"`
}

func orderToView(order *models.MozelloOrder, book *BookRef, user *UserRef) OrderView {
	return OrderView{
		ID:            order.ID,
		Email:         order.Email,
		MzHandle:      order.MzHandle,
		PaymentStatus: order.PaymentStatus,
		CalibreBook:   book,
		CalibreUser:   user,
		BookMissing:   book == nil,
		UserMissing:   user == nil,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}
