package mozellosync

import (
	"context"
	"time"

	"github.com/mmdatafocus/ebooks_backend/catalog"
	"github.com/mmdatafocus/ebooks_backend/mozello"
)

// BookRef is a resolved catalog item link.
type BookRef struct {
	BookId int    `json:"book_id"`
	Title  string `json:"title,omitempty"`
}

// UserRef is a resolved user account link.
type UserRef struct {
	UserId int    `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// BookDirectory is the catalog collaborator's handle lookup, consumed here
// and implemented elsewhere. Map keys are lower-cased handles.
type BookDirectory interface {
	LookupByHandles(ctx context.Context, handles []string) (map[string]BookRef, error)
}

// UserDirectory is the catalog collaborator's account surface. Map keys are
// normalized emails.
type UserDirectory interface {
	LookupByEmails(ctx context.Context, emails []string) (map[string]UserRef, error)
	LookupByEmail(ctx context.Context, email string) (*UserRef, error)
	CreateAccountForEmail(ctx context.Context, email string) (*UserRef, string, error)
}

// OrderLister is the slice of the rate-limited API client the import
// orchestrator needs.
type OrderLister interface {
	ListOrders(ctx context.Context, from *time.Time, to *time.Time, page int) ([]mozello.Order, bool, error)
}

// CalibreBooks adapts catalog.Library to BookDirectory.
type CalibreBooks struct {
	Library *catalog.Library
}

func (b CalibreBooks) LookupByHandles(ctx context.Context, handles []string) (map[string]BookRef, error) {
	infos, err := b.Library.LookupByHandles(ctx, handles)
	if err != nil {
		return nil, err
	}
	out := make(map[string]BookRef, len(infos))
	for key, info := range infos {
		out[key] = BookRef{BookId: info.BookId, Title: info.Title}
	}
	return out, nil
}

// CalibreUsers adapts catalog.UserDirectory to UserDirectory.
type CalibreUsers struct {
	Directory *catalog.UserDirectory
}

func (u CalibreUsers) LookupByEmails(ctx context.Context, emails []string) (map[string]UserRef, error) {
	infos, err := u.Directory.LookupByEmails(ctx, emails)
	if err != nil {
		return nil, err
	}
	out := make(map[string]UserRef, len(infos))
	for key, info := range infos {
		out[key] = UserRef{UserId: info.Id, Email: info.Email}
	}
	return out, nil
}

func (u CalibreUsers) LookupByEmail(ctx context.Context, email string) (*UserRef, error) {
	info, err := u.Directory.LookupByEmail(ctx, email)
	if err != nil || info == nil {
		return nil, err
	}
	return &UserRef{UserId: info.Id, Email: info.Email}, nil
}

func (u CalibreUsers) CreateAccountForEmail(ctx context.Context, email string) (*UserRef, string, error) {
	info, secret, err := u.Directory.CreateAccountForEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	return &UserRef{UserId: info.Id, Email: info.Email}, secret, nil
}
