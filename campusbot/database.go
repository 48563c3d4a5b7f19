package campusbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	customIDFormat = "%s:%s"
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion, stored in milliseconds.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelStringID struct {
	ID string `gorm:"primaryKey" json:"id"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// BotSettings holds persistent bot-level settings, primarily the admin
// credentials used by the API. Set via `campusbot init`.
type BotSettings struct {
	ModelUintID
	ModelUnixTime
	AdminUsername string `json:"admin_username"`
	AdminPassword string `json:"-" log:"[redacted]"`
}

// DocumentStore defines the interface for document operations. This is
// here primarily to enable mocking for testing. [store] implements this
// interface for 'real' DB operations.
type DocumentStore interface {
	DB() *gorm.DB

	// Add persists a new document. Returns [ErrDuplicateKey] if a
	// unique field collides with an existing record.
	Add(ctx context.Context, doc Document) error

	// Get loads a document by ID into doc. A missing record isn't an
	// error; the first return value reports whether it was found.
	Get(ctx context.Context, doc Document, id string) (bool, error)

	// Update applies partial updates to a document's body by field
	// path (segments separated by "__"), persists the document, and
	// re-reads it from storage.
	Update(ctx context.Context, doc Document, changes map[string]any) error

	// Save persists the document's current state.
	Save(ctx context.Context, doc Document) error

	// Delete permanently removes a document. Deleting a document that
	// doesn't exist is not an error.
	Delete(ctx context.Context, doc Document) error

	// SyncWithTemplate reconciles a stored document against its
	// schema: missing declared fields are backfilled with defaults and
	// persisted, undeclared fields are reported as [SchemaDriftError].
	SyncWithTemplate(ctx context.Context, doc Document) error

	ListUsers(ctx context.Context) ([]User, error)
	ListGuilds(ctx context.Context) ([]Guild, error)
	ListEvents(ctx context.Context, guildID string) ([]Event, error)
	GetReportTemplate(ctx context.Context, name string) (*ReportTemplate, error)
}

// store wraps a GORM connection with a write mutex (used unless
// concurrent writes are enabled - an overabundance of caution for
// SQLite) and per-operation timeouts.
type store struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	enableConcurrentWrites bool
}

// NewStore initializes a new document store over the given GORM
// connection.
func NewStore(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DocumentStore {
	if log == nil {
		log = slog.Default()
	}
	return &store{
		db:                     db,
		logger:                 log.With(loggerNameKey, "store"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (s *store) DB() *gorm.DB {
	return s.db
}

func (s *store) lock() {
	if s.enableConcurrentWrites {
		return
	}
	s.mu.Lock()
}

func (s *store) unlock() {
	if s.enableConcurrentWrites {
		return
	}
	s.mu.Unlock()
}

func (s *store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dbOperationTimeout)
}

func (s *store) Add(ctx context.Context, doc Document) error {
	s.lock()
	defer s.unlock()
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return translateDBError(err)
	}
	return nil
}

func (s *store) Get(ctx context.Context, doc Document, id string) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.db.WithContext(ctx).Take(doc, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *store) Update(
	ctx context.Context,
	doc Document,
	changes map[string]any,
) error {
	s.lock()
	defer s.unlock()
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	schema := doc.Schema()
	body := doc.Body()

	// apply in a stable order so a bad path fails the same way every time
	paths := make([]string, 0, len(changes))
	for path := range changes {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := schema.SetPath(body, path, changes[path]); err != nil {
			return err
		}
	}

	if err := s.db.WithContext(ctx).Save(doc).Error; err != nil {
		return translateDBError(err)
	}

	// re-read, so the caller sees exactly what's stored
	return s.db.WithContext(ctx).Take(doc, "id = ?", doc.DocumentID()).Error
}

func (s *store) Save(ctx context.Context, doc Document) error {
	s.lock()
	defer s.unlock()
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.db.WithContext(ctx).Save(doc).Error; err != nil {
		return translateDBError(err)
	}
	return nil
}

func (s *store) Delete(ctx context.Context, doc Document) error {
	s.lock()
	defer s.unlock()
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return s.db.WithContext(ctx).Unscoped().Delete(doc).Error
}

func (s *store) SyncWithTemplate(ctx context.Context, doc Document) error {
	changed, err := doc.Schema().Sync(doc.Body())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.logger.InfoContext(
		ctx,
		"backfilled template defaults",
		"collection", doc.Schema().Collection,
		"id", doc.DocumentID(),
	)
	return s.Save(ctx, doc)
}

func (s *store) ListUsers(ctx context.Context) ([]User, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var users []User
	err := s.db.WithContext(ctx).Find(&users).Error
	return users, err
}

func (s *store) ListGuilds(ctx context.Context) ([]Guild, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var guilds []Guild
	err := s.db.WithContext(ctx).Find(&guilds).Error
	return guilds, err
}

func (s *store) ListEvents(ctx context.Context, guildID string) ([]Event, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var events []Event
	query := s.db.WithContext(ctx).Order("created_at asc")
	if guildID != "" {
		query = query.Where("guild_id = ?", guildID)
	}
	err := query.Find(&events).Error
	return events, err
}

func (s *store) GetReportTemplate(
	ctx context.Context,
	name string,
) (*ReportTemplate, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var template ReportTemplate
	err := s.db.WithContext(ctx).Take(&template, "id = ?", name).Error
	if err != nil {
		return nil, err
	}
	return &template, nil
}

// translateDBError maps driver-specific uniqueness violations onto
// [ErrDuplicateKey] so callers don't match on driver error strings.
func translateDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, err.Error())
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, msg)
	}
	return err
}

// CreateDB initializes and returns a GORM database connection based on
// the specified database type, and performs auto-migration.
func CreateDB(ctx context.Context, databaseType string, database string) (
	*gorm.DB,
	error,
) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&User{},
		&Guild{},
		&Event{},
		&ReportTemplate{},
		&BotSettings{},
	)
	if err != nil {
		return db, err
	}

	commitErr := txn.Commit().Error
	if commitErr != nil {
		return db, commitErr
	}

	return db, nil
}

// getDB initializes and returns a GORM database connection based on the
// specified database type ('sqlite' or 'postgres').
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		db, err := gorm.Open(
			sqlite.Open(database),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if err = db.Exec(pragma).Error; err != nil {
				return nil, err
			}
		}
		return db, nil
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(database), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
