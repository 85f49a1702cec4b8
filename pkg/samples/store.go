// Package samples keeps the library of example programs in SQLite.
package samples

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/antibyte/raamcode/pkg/brainfuck"
	"github.com/antibyte/raamcode/pkg/logger"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"
)

//go:embed default_samples.yaml
var defaultSamples []byte

var (
	ErrSampleNotFound = errors.New("sample not found")
	ErrInvalidSample  = errors.New("invalid sample")
)

// Sample is one stored program
type Sample struct {
	Name        string            `json:"name" yaml:"name"`
	Variant     brainfuck.Variant `json:"-" yaml:"-"`
	VariantName string            `json:"variant" yaml:"variant"`
	Description string            `json:"description" yaml:"description"`
	Source      string            `json:"source" yaml:"source"`
	CreatedAt   time.Time         `json:"createdAt" yaml:"-"`
}

// seedFile is the YAML document read by Seed
type seedFile struct {
	Samples []Sample `yaml:"samples"`
}

// InitDB initializes the SQLite database connection and returns the connection object.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Ensure the database is accessible
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite erlaubt nur einen Schreiber
	db.SetMaxOpenConns(1)
	return db, nil
}

// CreateTables ensures all required tables exist in the database.
func CreateTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS samples (
			name TEXT NOT NULL,
			variant TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (name, variant)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_variant ON samples(variant)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Store reads and writes samples
type Store struct {
	db *sql.DB
}

// NewStore wraps an initialized database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open initializes the database at path, creates the tables and seeds the
// embedded samples when the table is empty.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, err
	}
	if err := CreateTables(db); err != nil {
		db.Close()
		return nil, err
	}

	s := NewStore(db)
	n, err := s.Count(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if n == 0 {
		added, err := s.Seed(ctx, bytes.NewReader(defaultSamples))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("seeding default samples: %w", err)
		}
		logger.SamplesInfo("Seeded %d default samples into %s", added, path)
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Count returns the number of stored samples
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting samples: %w", err)
	}
	return n, nil
}

// List returns the samples of one variant ordered by name
func (s *Store) List(ctx context.Context, variant brainfuck.Variant) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, variant, description, source, created_at FROM samples WHERE variant = ? ORDER BY name`,
		variant.String())
	if err != nil {
		return nil, fmt.Errorf("listing samples: %w", err)
	}
	defer rows.Close()

	var list []Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, sample)
	}
	return list, rows.Err()
}

// Get returns one sample
func (s *Store) Get(ctx context.Context, name string, variant brainfuck.Variant) (Sample, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, variant, description, source, created_at FROM samples WHERE name = ? AND variant = ?`,
		name, variant.String())
	sample, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Sample{}, fmt.Errorf("%w: %s (%s)", ErrSampleNotFound, name, variant)
	}
	return sample, err
}

// Save inserts or replaces a sample
func (s *Store) Save(ctx context.Context, sample Sample) error {
	if err := sample.normalize(); err != nil {
		return err
	}
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO samples (name, variant, description, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		sample.Name, sample.Variant.String(), sample.Description, sample.Source, sample.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("saving sample %s: %w", sample.Name, err)
	}
	logger.Debug(logger.AreaDatabase, "Sample saved: %s (%s)", sample.Name, sample.Variant)
	return nil
}

// Delete removes a sample
func (s *Store) Delete(ctx context.Context, name string, variant brainfuck.Variant) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM samples WHERE name = ? AND variant = ?`, name, variant.String())
	if err != nil {
		return fmt.Errorf("deleting sample %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s (%s)", ErrSampleNotFound, name, variant)
	}
	return nil
}

// Seed reads a YAML document of samples and saves every entry in one transaction.
// It returns the number of samples written.
func (s *Store) Seed(ctx context.Context, r io.Reader) (int, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var file seedFile
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, fmt.Errorf("parsing samples: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for i := range file.Samples {
		sample := &file.Samples[i]
		if err := sample.normalize(); err != nil {
			return 0, fmt.Errorf("samples[%d]: %w", i, err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO samples (name, variant, description, source, created_at) VALUES (?, ?, ?, ?, ?)`,
			sample.Name, sample.Variant.String(), sample.Description, sample.Source, now)
		if err != nil {
			return 0, fmt.Errorf("seeding sample %s: %w", sample.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(file.Samples), nil
}

// normalize resolves VariantName and checks required fields
func (sample *Sample) normalize() error {
	sample.Name = strings.TrimSpace(sample.Name)
	if sample.Name == "" {
		return fmt.Errorf("%w: name must be provided", ErrInvalidSample)
	}
	if sample.Source == "" {
		return fmt.Errorf("%w: %s has no source", ErrInvalidSample, sample.Name)
	}
	if sample.VariantName != "" {
		v, err := brainfuck.ParseVariant(sample.VariantName)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSample, sample.Name, err)
		}
		sample.Variant = v
	}
	sample.VariantName = sample.Variant.String()
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSample(row scanner) (Sample, error) {
	var sample Sample
	var created int64
	if err := row.Scan(&sample.Name, &sample.VariantName, &sample.Description, &sample.Source, &created); err != nil {
		return Sample{}, err
	}
	v, err := brainfuck.ParseVariant(sample.VariantName)
	if err != nil {
		return Sample{}, fmt.Errorf("stored sample %s: %w", sample.Name, err)
	}
	sample.Variant = v
	sample.CreatedAt = time.Unix(created, 0)
	return sample, nil
}
