package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/memo-web/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

// PostgreSQL SQLSTATE codes.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the config as a lib/pq key/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := NewPostgresStorageFromDB(db, logger)

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("host", config.Host),
		zap.String("dbname", config.DBName))
	return storage, nil
}

// NewPostgresStorageFromDB wraps an already opened handle without running
// migrations.
func NewPostgresStorageFromDB(db *sql.DB, logger *zap.Logger) *PostgresStorage {
	return &PostgresStorage{db: db, logger: logger}
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

// User methods
func (s *PostgresStorage) CreateUser(ctx context.Context, user *models.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, created_at) VALUES ($1, $2, $3, $4)`,
		user.Username, user.PasswordHash, string(user.Role), user.CreatedAt)
	if err != nil {
		if hasCode(err, uniqueViolation) {
			return ErrDuplicateUsername
		}
		return fmt.Errorf("error creating user: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetUser(ctx context.Context, username string) (*models.User, error) {
	var (
		user models.User
		role string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, role, created_at FROM users WHERE username = $1`,
		username).Scan(&user.Username, &user.PasswordHash, &role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying user: %w", err)
	}
	user.Role = models.Role(role)
	return &user, nil
}

func (s *PostgresStorage) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1 WHERE username = $2`,
		passwordHash, username)
	if err != nil {
		return fmt.Errorf("error updating password: %w", err)
	}
	return nil
}

// DeleteUser locks the user row before removing the notes, so a concurrent
// CreateNote either finishes first and is removed here, or fails its foreign
// key check afterwards.
func (s *PostgresStorage) DeleteUser(ctx context.Context, username string) ([]*models.Note, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	var found int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE username = $1 FOR UPDATE`, username).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return []*models.Note{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error locking user: %w", err)
	}

	notes, err := deleteNotesByOwner(ctx, tx, username)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, username); err != nil {
		return nil, fmt.Errorf("error deleting user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing user removal: %w", err)
	}
	return notes, nil
}

func (s *PostgresStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, password_hash, role, created_at FROM users ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("error querying users: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		var (
			user models.User
			role string
		)
		if err := rows.Scan(&user.Username, &user.PasswordHash, &role, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning user: %w", err)
		}
		user.Role = models.Role(role)
		users = append(users, &user)
	}
	return users, rows.Err()
}

// Note methods
func (s *PostgresStorage) CreateNote(ctx context.Context, note *models.Note) error {
	if err := note.Validate(); err != nil {
		return err
	}
	id := note.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	var seq int64

	query := `
		INSERT INTO notes (id, owner, title, text, image, pinned, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING seq`

	err := s.db.QueryRowContext(ctx, query,
		id,
		note.Owner,
		note.Title,
		note.Text,
		note.Image,
		note.Pinned,
		now,
	).Scan(&seq)
	if err != nil {
		if hasCode(err, foreignKeyViolation) {
			return fmt.Errorf("%w: %s", ErrUnknownOwner, note.Owner)
		}
		return fmt.Errorf("error creating note: %w", err)
	}

	note.ID = id
	note.Seq = seq
	note.CreatedAt = now
	note.UpdatedAt = now
	return nil
}

const noteColumns = `id, owner, title, text, image, pinned, seq, created_at, updated_at`

// orderClause is the listing order shared by every note query.
const orderClause = ` ORDER BY pinned DESC, seq ASC`

func (s *PostgresStorage) GetNote(ctx context.Context, id string) (*models.Note, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = $1`, id)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying note: %w", err)
	}
	return note, nil
}

func (s *PostgresStorage) UpdateNote(ctx context.Context, id string, update models.NoteUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	var title sql.NullString
	if update.Title != nil {
		title = sql.NullString{String: *update.Title, Valid: true}
	}

	query := `
		UPDATE notes
		SET text = $1, pinned = $2, title = COALESCE($3, title), updated_at = $4
		WHERE id = $5`

	if _, err := s.db.ExecContext(ctx, query, update.Text, update.Pinned, title, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("error updating note: %w", err)
	}
	return nil
}

func (s *PostgresStorage) DeleteNote(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("error deleting note: %w", err)
	}
	return nil
}

func (s *PostgresStorage) ListNotes(ctx context.Context, query models.NoteQuery) ([]*models.Note, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notes WHERE ($1 OR owner = $2)`,
		query.All, query.Owner).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("error counting notes: %w", err)
	}

	stmt := `SELECT ` + noteColumns + ` FROM notes WHERE ($1 OR owner = $2)` + orderClause
	args := []any{query.All, query.Owner}
	if query.Limit > 0 {
		stmt += ` LIMIT $` + strconv.Itoa(len(args)+1)
		args = append(args, query.Limit)
	}
	if query.Offset > 0 {
		stmt += ` OFFSET $` + strconv.Itoa(len(args)+1)
		args = append(args, query.Offset)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("error querying notes: %w", err)
	}
	notes, err := scanNotes(rows)
	if err != nil {
		return nil, 0, err
	}
	return notes, total, nil
}

func (s *PostgresStorage) SearchNotes(ctx context.Context, query models.NoteQuery, keyword string) ([]*models.Note, error) {
	keyword = strings.TrimSpace(keyword)
	stmt := `SELECT ` + noteColumns + ` FROM notes
		WHERE ($1 OR owner = $2)
		AND (strpos(lower(title), lower($3)) > 0 OR strpos(lower(text), lower($3)) > 0)` + orderClause

	rows, err := s.db.QueryContext(ctx, stmt, query.All, query.Owner, keyword)
	if err != nil {
		return nil, fmt.Errorf("error searching notes: %w", err)
	}
	return scanNotes(rows)
}

func (s *PostgresStorage) DeleteNotesByOwner(ctx context.Context, owner string) ([]*models.Note, error) {
	return deleteNotesByOwner(ctx, s.db, owner)
}

func deleteNotesByOwner(ctx context.Context, q querier, owner string) ([]*models.Note, error) {
	rows, err := q.QueryContext(ctx,
		`DELETE FROM notes WHERE owner = $1 RETURNING `+noteColumns, owner)
	if err != nil {
		return nil, fmt.Errorf("error deleting notes by owner: %w", err)
	}
	notes, err := scanNotes(rows)
	if err != nil {
		return nil, err
	}
	sortNotes(notes)
	return notes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*models.Note, error) {
	note := &models.Note{}
	err := row.Scan(
		&note.ID,
		&note.Owner,
		&note.Title,
		&note.Text,
		&note.Image,
		&note.Pinned,
		&note.Seq,
		&note.CreatedAt,
		&note.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return note, nil
}

func scanNotes(rows *sql.Rows) ([]*models.Note, error) {
	defer rows.Close()

	notes := []*models.Note{}
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}
	return notes, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
