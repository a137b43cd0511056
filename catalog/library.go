package catalog

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Library reads the catalog application's book metadata database. The core
// never creates or deletes books; it only resolves handles and prices.
type Library struct {
	db *gorm.DB
}

// BookInfo is the slice of catalog metadata the reconciler cares about.
type BookInfo struct {
	BookId      int
	Title       string
	Handle      string
	RelativeURL string
}

// OpenLibrary opens the metadata.db inside the given library root.
func OpenLibrary(path string) (*Library, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &Library{db: db}, nil
}

// NewLibrary wraps an existing handle (tests).
func NewLibrary(db *gorm.DB) *Library {
	return &Library{db: db}
}

// LookupByHandles resolves store handles to book ids in one query. Keys of
// the returned map are lower-cased handles; missing handles are simply
// absent, which callers treat as "not yet linked", not an error.
func (l *Library) LookupByHandles(ctx context.Context, handles []string) (map[string]BookInfo, error) {
	normalized := make([]string, 0, len(handles))
	seen := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		normalized = append(normalized, key)
	}
	if len(normalized) == 0 {
		return map[string]BookInfo{}, nil
	}

	type row struct {
		Handle string
		ID     int
		Title  string
	}
	var rows []row
	err := l.db.WithContext(ctx).Raw(
		`SELECT lower(i.val) AS handle, b.id, b.title
		 FROM identifiers i
		 JOIN books b ON b.id = i.book
		 WHERE i.type = 'mz' AND lower(i.val) IN ?`, normalized,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	urls, err := l.identifierMap(ctx, "mz_relative_url")
	if err != nil {
		urls = map[int]string{}
	}

	result := make(map[string]BookInfo, len(rows))
	for _, r := range rows {
		key := strings.TrimSpace(r.Handle)
		if key == "" {
			continue
		}
		result[key] = BookInfo{
			BookId:      r.ID,
			Title:       r.Title,
			Handle:      r.Handle,
			RelativeURL: urls[r.ID],
		}
	}
	return result, nil
}

func (l *Library) LookupByHandle(ctx context.Context, handle string) (*BookInfo, error) {
	m, err := l.LookupByHandles(ctx, []string{handle})
	if err != nil {
		return nil, err
	}
	if info, ok := m[strings.ToLower(strings.TrimSpace(handle))]; ok {
		return &info, nil
	}
	return nil, nil
}

// FreeBookIds returns books with a missing or zero store price. Prices live
// in the catalog's mz_price custom column; a book never exported to the
// store has no price row and counts as free.
func (l *Library) FreeBookIds(ctx context.Context) (map[int]struct{}, error) {
	var bookIds []int
	if err := l.db.WithContext(ctx).Raw(`SELECT id FROM books`).Scan(&bookIds).Error; err != nil {
		return nil, err
	}

	priceTable, err := l.priceTableName(ctx)
	if err != nil {
		return nil, err
	}

	priced := map[int]decimal.Decimal{}
	if priceTable != "" {
		type priceRow struct {
			Book  int
			Value float64
		}
		var rows []priceRow
		if err := l.db.WithContext(ctx).Raw(
			`SELECT book, value FROM ` + priceTable,
		).Scan(&rows).Error; err == nil {
			for _, r := range rows {
				priced[r.Book] = decimal.NewFromFloat(r.Value)
			}
		}
	}

	free := make(map[int]struct{}, len(bookIds))
	for _, id := range bookIds {
		price, ok := priced[id]
		if !ok || price.LessThanOrEqual(decimal.Zero) {
			free[id] = struct{}{}
		}
	}
	return free, nil
}

func (l *Library) priceTableName(ctx context.Context) (string, error) {
	var columnId *int
	err := l.db.WithContext(ctx).Raw(
		`SELECT id FROM custom_columns WHERE label = 'mz_price' LIMIT 1`,
	).Scan(&columnId).Error
	if err != nil {
		return "", err
	}
	if columnId == nil {
		return "", nil
	}
	return "custom_column_" + strconv.Itoa(*columnId), nil
}

func (l *Library) identifierMap(ctx context.Context, typeName string) (map[int]string, error) {
	type row struct {
		Book int
		Val  string
	}
	var rows []row
	err := l.db.WithContext(ctx).Raw(
		`SELECT book, val FROM identifiers WHERE type = ?`, typeName,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(rows))
	for _, r := range rows {
		if v := strings.TrimSpace(r.Val); v != "" {
			out[r.Book] = v
		}
	}
	return out, nil
}
