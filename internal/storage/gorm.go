package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/memo-web/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type userRow struct {
	Seq          int64  `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"uniqueIndex;size:191;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	Role         string `gorm:"size:32;not null;default:user"`
	CreatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

func (r *userRow) toModel() *models.User {
	return &models.User{
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		Role:         models.Role(r.Role),
		CreatedAt:    r.CreatedAt,
	}
}

type noteRow struct {
	Seq       int64  `gorm:"primaryKey;autoIncrement"`
	ID        string `gorm:"column:id;uniqueIndex;size:64;not null"`
	Owner     string `gorm:"index;size:191;not null"`
	Title     string `gorm:"type:text"`
	Text      string `gorm:"type:text;not null"`
	Image     string `gorm:"size:255"`
	Pinned    bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (noteRow) TableName() string { return "notes" }

func (r *noteRow) toModel() *models.Note {
	return &models.Note{
		ID:        r.ID,
		Owner:     r.Owner,
		Title:     r.Title,
		Text:      r.Text,
		Image:     r.Image,
		Pinned:    r.Pinned,
		Seq:       r.Seq,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// GormStorage persists users and notes through gorm, backed by SQLite or
// MySQL.
type GormStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStorage opens driver ("sqlite" or "mysql") at dsn and migrates the
// schema.
func NewGormStorage(driver, dsn string, logger *zap.Logger) (*GormStorage, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if err := db.AutoMigrate(&userRow{}, &noteRow{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("Connected to database", zap.String("driver", driver))
	return &GormStorage{db: db, logger: logger}, nil
}

// User methods
func (s *GormStorage) CreateUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	row := &userRow{
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		Role:         string(user.Role),
		CreatedAt:    user.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("error creating user: %w", err)
	}
	return nil
}

func (s *GormStorage) GetUser(ctx context.Context, username string) (*models.User, error) {
	var row userRow
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying user: %w", err)
	}
	return row.toModel(), nil
}

func (s *GormStorage) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	err := s.db.WithContext(ctx).Model(&userRow{}).
		Where("username = ?", username).
		Update("password_hash", passwordHash).Error
	if err != nil {
		return fmt.Errorf("error updating password: %w", err)
	}
	return nil
}

// lockUser reports whether username exists, taking a row lock of the given
// strength where the dialect supports it. SQLite serializes writers on its own.
func (s *GormStorage) lockUser(tx *gorm.DB, username, strength string) (bool, error) {
	if s.db.Dialector.Name() == "mysql" {
		tx = tx.Clauses(clause.Locking{Strength: strength})
	}
	var row userRow
	err := tx.Where("username = ?", username).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *GormStorage) DeleteUser(ctx context.Context, username string) ([]*models.Note, error) {
	rows := []noteRow{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.lockUser(tx, username, "UPDATE")
		if err != nil || !found {
			return err
		}
		if err := tx.Scopes(ordered).Where("owner = ?", username).Find(&rows).Error; err != nil {
			return err
		}
		if err := tx.Where("owner = ?", username).Delete(&noteRow{}).Error; err != nil {
			return err
		}
		return tx.Where("username = ?", username).Delete(&userRow{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("error deleting user: %w", err)
	}
	return rowsToNotes(rows), nil
}

func (s *GormStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error querying users: %w", err)
	}
	users := make([]*models.User, 0, len(rows))
	for i := range rows {
		users = append(users, rows[i].toModel())
	}
	return users, nil
}

// Note methods
func (s *GormStorage) CreateNote(ctx context.Context, note *models.Note) error {
	if err := note.Validate(); err != nil {
		return err
	}
	id := note.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	row := &noteRow{
		ID:        id,
		Owner:     note.Owner,
		Title:     note.Title,
		Text:      note.Text,
		Image:     note.Image,
		Pinned:    note.Pinned,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.lockUser(tx, note.Owner, "SHARE")
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrUnknownOwner, note.Owner)
		}
		return tx.Create(row).Error
	})
	if errors.Is(err, ErrUnknownOwner) {
		return err
	}
	if err != nil {
		return fmt.Errorf("error creating note: %w", err)
	}
	note.ID = id
	note.Seq = row.Seq
	note.CreatedAt = now
	note.UpdatedAt = now
	return nil
}

func (s *GormStorage) GetNote(ctx context.Context, id string) (*models.Note, error) {
	var row noteRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying note: %w", err)
	}
	return row.toModel(), nil
}

func (s *GormStorage) UpdateNote(ctx context.Context, id string, update models.NoteUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}
	fields := map[string]any{
		"text":       update.Text,
		"pinned":     update.Pinned,
		"updated_at": time.Now().UTC(),
	}
	if update.Title != nil {
		fields["title"] = *update.Title
	}
	if err := s.db.WithContext(ctx).Model(&noteRow{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("error updating note: %w", err)
	}
	return nil
}

func (s *GormStorage) DeleteNote(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&noteRow{}).Error; err != nil {
		return fmt.Errorf("error deleting note: %w", err)
	}
	return nil
}

// scoped limits a note query to the caller's ownership scope.
func scoped(query models.NoteQuery) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if query.All {
			return db
		}
		return db.Where("owner = ?", query.Owner)
	}
}

func ordered(db *gorm.DB) *gorm.DB {
	return db.Order("pinned desc").Order("seq asc")
}

func (s *GormStorage) ListNotes(ctx context.Context, query models.NoteQuery) ([]*models.Note, int, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&noteRow{}).Scopes(scoped(query)).Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("error counting notes: %w", err)
	}

	tx := s.db.WithContext(ctx).Scopes(scoped(query), ordered)
	if query.Offset > 0 {
		tx = tx.Offset(query.Offset)
	}
	if query.Limit > 0 {
		tx = tx.Limit(query.Limit)
	}

	var rows []noteRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("error querying notes: %w", err)
	}
	return rowsToNotes(rows), int(total), nil
}

func (s *GormStorage) SearchNotes(ctx context.Context, query models.NoteQuery, keyword string) ([]*models.Note, error) {
	k := strings.ToLower(strings.TrimSpace(keyword))

	var rows []noteRow
	err := s.db.WithContext(ctx).
		Scopes(scoped(query), ordered).
		Where("(INSTR(LOWER(title), ?) > 0 OR INSTR(LOWER(text), ?) > 0)", k, k).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error searching notes: %w", err)
	}
	return rowsToNotes(rows), nil
}

func (s *GormStorage) DeleteNotesByOwner(ctx context.Context, owner string) ([]*models.Note, error) {
	var rows []noteRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Scopes(ordered).Where("owner = ?", owner).Find(&rows).Error; err != nil {
			return err
		}
		return tx.Where("owner = ?", owner).Delete(&noteRow{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("error deleting notes by owner: %w", err)
	}
	return rowsToNotes(rows), nil
}

func rowsToNotes(rows []noteRow) []*models.Note {
	notes := make([]*models.Note, 0, len(rows))
	for i := range rows {
		notes = append(notes, rows[i].toModel())
	}
	return notes
}

func (s *GormStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
