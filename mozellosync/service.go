package mozellosync

import (
	"context"
	"errors"
	"strings"

	"github.com/mmdatafocus/ebooks_backend/config"
	"github.com/mmdatafocus/ebooks_backend/models"
	"github.com/mmdatafocus/ebooks_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Service owns the order store workflows: webhook ingestion, reconciliation
// sweeps, imports and the admin operations. The catalog collaborators come in
// behind interfaces so the store logic never touches sqlite directly.
type Service struct {
	db          *gorm.DB
	books       BookDirectory
	users       UserDirectory
	orders      OrderLister
	logger      *logrus.Logger
	apiKey      string
	requirePaid bool
}

func NewService(db *gorm.DB, books BookDirectory, users UserDirectory, orders OrderLister, apiKey string) *Service {
	return &Service{
		db:          db,
		books:       books,
		users:       users,
		orders:      orders,
		logger:      config.GetLogger(),
		apiKey:      apiKey,
		requirePaid: config.EntitlementRequirePaid(),
	}
}

// CreateOrder is the admin path: record an entitlement by hand, then try to
// resolve its links right away.
func (s *Service) CreateOrder(ctx context.Context, email string, mzHandle string, paymentStatus string) (*OrderView, bool, error) {
	status := models.NormalizePaymentStatus(paymentStatus)
	order, created, err := models.CreateOrder(s.db, email, mzHandle, status)
	if err != nil {
		return nil, false, err
	}
	if recErr := s.reconcileIds(ctx, []int{order.ID}); recErr != nil {
		config.LogError(s.logger, "mozellosync", "CreateOrder", "reconcile new record", order.ID, recErr)
	}
	view, err := s.viewOrder(ctx, order.ID)
	if err != nil {
		return nil, created, err
	}
	return view, created, nil
}

// RefreshOrder re-resolves the links of a single record.
func (s *Service) RefreshOrder(ctx context.Context, id int) (*OrderView, error) {
	if _, err := models.GetOrder(s.db, id); err != nil {
		return nil, err
	}
	if err := s.reconcileIds(ctx, []int{id}); err != nil {
		return nil, err
	}
	return s.viewOrder(ctx, id)
}

// DeleteOrder revokes the local entitlement. The remote platform keeps its
// own order history untouched.
func (s *Service) DeleteOrder(ctx context.Context, id int) error {
	order, err := models.GetOrder(s.db, id)
	if err != nil {
		return err
	}
	deleted, err := models.DeleteOrder(s.db, id)
	if err != nil {
		return err
	}
	if !deleted {
		return utils.ErrorRecordNotFound
	}
	models.InvalidateEntitlementCache(order.CalibreUserId)
	return nil
}

// CreateUserForOrder links an order to a catalog account, creating the
// account when the buyer has none. The generated secret is returned exactly
// once, for the admin to hand over out of band.
func (s *Service) CreateUserForOrder(ctx context.Context, id int) (*OrderView, string, error) {
	order, err := models.GetOrder(s.db, id)
	if err != nil {
		return nil, "", err
	}

	secret := ""
	user, err := s.users.LookupByEmail(ctx, order.Email)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		user, secret, err = s.users.CreateAccountForEmail(ctx, order.Email)
		if err != nil {
			return nil, "", err
		}
	}

	if err := models.UpdateOrderLinks(s.db, order.ID, &user.UserId, nil); err != nil {
		return nil, "", err
	}
	models.InvalidateEntitlementCache(&user.UserId)

	view, err := s.viewOrder(ctx, order.ID)
	if err != nil {
		return nil, "", err
	}
	return view, secret, nil
}

// ListOrders runs a refresh sweep first, so the listing the admin sees
// reflects current catalog state rather than the links as last cached.
func (s *Service) ListOrders(ctx context.Context) (*OrderListResult, error) {
	if _, err := s.ReconcileAll(ctx); err != nil {
		config.LogError(s.logger, "mozellosync", "ListOrders", "refresh sweep", nil, err)
	}

	orders, err := models.ListOrders(s.db)
	if err != nil {
		return nil, err
	}
	return s.renderOrders(ctx, orders)
}

// renderOrders expands stored records into views, resolving titles and
// account emails in two batch lookups.
func (s *Service) renderOrders(ctx context.Context, orders []models.MozelloOrder) (*OrderListResult, error) {
	handles := make([]string, 0, len(orders))
	emails := make([]string, 0, len(orders))
	for _, o := range orders {
		handles = append(handles, o.MzHandle)
		emails = append(emails, o.Email)
	}
	books, err := s.books.LookupByHandles(ctx, handles)
	if err != nil {
		return nil, err
	}
	users, err := s.users.LookupByEmails(ctx, emails)
	if err != nil {
		return nil, err
	}

	result := &OrderListResult{Orders: make([]OrderView, 0, len(orders))}
	for i := range orders {
		o := &orders[i]
		var book *BookRef
		if o.CalibreBookId != nil {
			b := BookRef{BookId: *o.CalibreBookId}
			if ref, ok := books[strings.ToLower(o.MzHandle)]; ok && ref.BookId == b.BookId {
				b.Title = ref.Title
			}
			book = &b
		}
		var user *UserRef
		if o.CalibreUserId != nil {
			u := UserRef{UserId: *o.CalibreUserId}
			if ref, ok := users[o.Email]; ok && ref.UserId == u.UserId {
				u.Email = ref.Email
			}
			user = &u
		}
		result.Orders = append(result.Orders, orderToView(o, book, user))
		result.Summary.Total++
		if book != nil {
			result.Summary.LinkedBooks++
		}
		if user != nil {
			result.Summary.LinkedUsers++
		}
	}
	return result, nil
}

func (s *Service) viewOrder(ctx context.Context, id int) (*OrderView, error) {
	order, err := models.GetOrder(s.db, id)
	if err != nil {
		return nil, err
	}
	result, err := s.renderOrders(ctx, []models.MozelloOrder{*order})
	if err != nil {
		return nil, err
	}
	if len(result.Orders) == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	view := result.Orders[0]
	return &view, nil
}

// IsNotFound reports whether an error from this service means the record
// does not exist, for the handlers to map to 404.
func IsNotFound(err error) bool {
	return errors.Is(err, utils.ErrorRecordNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}
