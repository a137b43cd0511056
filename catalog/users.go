package catalog

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/mmdatafocus/ebooks_backend/config"
	"github.com/mmdatafocus/ebooks_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// UserDirectory reads and (on request) extends the catalog application's
// user account database. Account creation is the only delegated write the
// core performs there.
type UserDirectory struct {
	db     *gorm.DB
	logger *logrus.Logger
}

type UserInfo struct {
	Id    int
	Email string
	Name  string
}

var ErrUserExists = errors.New("user account already exists")

func OpenUserDirectory(path string) (*UserDirectory, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &UserDirectory{db: db, logger: config.GetLogger()}, nil
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db, logger: config.GetLogger()}
}

// LookupByEmails resolves normalized emails to account ids in one query.
// Account emails are unique upstream, but a duplicate is tolerated by
// picking the lowest id deterministically and logging a warning.
func (d *UserDirectory) LookupByEmails(ctx context.Context, emails []string) (map[string]UserInfo, error) {
	normalized := make([]string, 0, len(emails))
	seen := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		key := utils.NormalizeEmail(e)
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
		return map[string]UserInfo{}, nil
	}

	type row struct {
		ID    int
		Email string
		Name  string
	}
	var rows []row
	err := d.db.WithContext(ctx).Raw(
		`SELECT id, email, name FROM user WHERE lower(trim(email)) IN ? ORDER BY id ASC`,
		normalized,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make(map[string]UserInfo, len(rows))
	for _, r := range rows {
		key := utils.NormalizeEmail(r.Email)
		if existing, ok := result[key]; ok {
			// Rows come back ordered by id, so the kept entry is the lowest.
			if d.logger != nil {
				d.logger.WithFields(logrus.Fields{
					"module":     "catalog",
					"email_hash": utils.HashEmailForLog(key),
					"kept_id":    existing.Id,
					"extra_id":   r.ID,
				}).Warn("duplicate user accounts for email; keeping lowest id")
			}
			continue
		}
		result[key] = UserInfo{Id: r.ID, Email: key, Name: r.Name}
	}
	return result, nil
}

func (d *UserDirectory) LookupByEmail(ctx context.Context, email string) (*UserInfo, error) {
	m, err := d.LookupByEmails(ctx, []string{email})
	if err != nil {
		return nil, err
	}
	if info, ok := m[utils.NormalizeEmail(email)]; ok {
		return &info, nil
	}
	return nil, nil
}

// CreateAccountForEmail provisions a catalog account for a buyer that has
// none yet. Returns the new account and the generated one-time secret the
// admin hands to the buyer. ErrUserExists when the email is already taken.
func (d *UserDirectory) CreateAccountForEmail(ctx context.Context, email string) (*UserInfo, string, error) {
	emailNorm := utils.NormalizeEmail(email)
	if emailNorm == "" {
		return nil, "", errors.New("email is required")
	}

	existing, err := d.LookupByEmail(ctx, emailNorm)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return nil, "", ErrUserExists
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, "", err
	}
	hashed, err := utils.HashPassword(secret)
	if err != nil {
		return nil, "", err
	}

	name := emailNorm
	if at := strings.IndexByte(emailNorm, '@'); at > 0 {
		name = emailNorm[:at]
	}

	err = d.db.WithContext(ctx).Exec(
		`INSERT INTO user (name, email, password, role) VALUES (?, ?, ?, 0)`,
		name, emailNorm, string(hashed),
	).Error
	if err != nil {
		return nil, "", err
	}

	created, err := d.LookupByEmail(ctx, emailNorm)
	if err != nil {
		return nil, "", err
	}
	if created == nil {
		return nil, "", errors.New("account creation did not persist")
	}
	return created, secret, nil
}

func generateSecret() (string, error) {
	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
