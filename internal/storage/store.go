// Package storage persists the mirrored catalog and product embeddings.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/metheoryt/arbuz-concierge/internal/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options configures Open.
type Options struct {
	Driver    string
	DSN       string
	Dimension int // embedding vector size, VectorDimension when zero
}

// Store is the transactional catalog store. Methods that take a tx run on it
// when it is non-nil and on the base connection otherwise.
type Store struct {
	db     *gorm.DB
	driver string
	dim    int
	log    *logger.Logger
}

// Open connects to the database. SQLite is limited to one connection so that
// in-memory databases are shared and writes serialize.
func Open(opts Options, log *logger.Logger) (*Store, error) {
	log = logger.OrNop(log)

	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverPostgres, "":
		opts.Driver = DriverPostgres
		dialector = postgres.Open(opts.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	gormLog := gormLogger.New(
		zap.NewStdLog(log.SugaredLogger.Desugar()),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Driver, err)
	}

	if opts.Driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(db, opts.Driver, opts.Dimension, log), nil
}

// New wraps an existing connection.
func New(db *gorm.DB, driver string, dim int, log *logger.Logger) *Store {
	if dim <= 0 {
		dim = VectorDimension
	}
	return &Store{
		db:     db,
		driver: driver,
		dim:    dim,
		log:    logger.OrNop(log).With("service", "Store"),
	}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// Dimension is the vector size embeddings must have.
func (s *Store) Dimension() int { return s.dim }

// Transaction runs fn in a single database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx)
}

// Migrate creates or updates the schema. On Postgres it enables pgvector,
// sizes the vector column and adds an HNSW cosine index.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	if err := db.SetupJoinTable(&Product{}, "Features", &ProductFeature{}); err != nil {
		return fmt.Errorf("setup product_features: %w", err)
	}

	models := []any{
		&Category{},
		&Feature{},
		&Product{},
		&ProductFeature{},
		&ProductCategory{},
		&CrawlCheckpoint{},
	}

	if s.driver != DriverPostgres {
		models = append(models, &ProductEmbedding{})
		if err := db.AutoMigrate(models...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		return fmt.Errorf("failed to enable vector extension: %w", err)
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// the sized vector column is not something AutoMigrate can reconcile,
	// so the embeddings table is only created once
	if db.Migrator().HasTable(&ProductEmbedding{}) {
		return nil
	}
	if err := db.AutoMigrate(&ProductEmbedding{}); err != nil {
		return fmt.Errorf("auto migrate embeddings: %w", err)
	}
	stmts := []string{
		fmt.Sprintf(`ALTER TABLE product_embeddings ALTER COLUMN vector TYPE vector(%d)`, s.dim),
		`CREATE INDEX IF NOT EXISTS idx_product_embeddings_vector ON product_embeddings USING hnsw (vector vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate embeddings: %w", err)
		}
	}
	s.log.Info("Created embeddings table", "dimension", s.dim)
	return nil
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	}
	return err
}
