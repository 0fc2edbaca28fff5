// Package sqlsink writes observation series to a SQL table in long format:
// one row per observation and column, NULL for missing values
package sqlsink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/sink"
	"github.com/ethpandaops/gridstat/pkg/window"
	_ "github.com/lib/pq" // PostgreSQL driver behind the gorm dialector
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // pure Go SQLite driver behind the gorm dialector
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// insertBatch is the number of rows per INSERT statement
const insertBatch = 500

var (
	// ErrUnsupportedDriver is returned for a driver other than sqlite or postgres
	ErrUnsupportedDriver = errors.New("unsupported sql driver")
	// ErrDSNRequired is returned when no data source name is configured
	ErrDSNRequired = errors.New("sql dsn is required")
	// ErrInvalidTable is returned for a table name that is not a plain identifier
	ErrInvalidTable = errors.New("invalid sql table name")

	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Config configures the SQL sink
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver" default:"sqlite"`
	DSN     string `yaml:"dsn"`
	Table   string `yaml:"table" default:"observations"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Driver != DriverSQLite && c.Driver != DriverPostgres {
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver)
	}

	if c.DSN == "" {
		return ErrDSNRequired
	}

	if !identifier.MatchString(c.Table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, c.Table)
	}

	return nil
}

// Row is one stored value
type Row struct {
	RunID     string `gorm:"column:run_id;not null"`
	Dataset   string `gorm:"column:dataset;not null"`
	Export    string `gorm:"column:export;not null"`
	TimeLabel string `gorm:"column:time_label;not null"`
	Column    string `gorm:"column:column_name;not null"`
	// Value is nil when the observation is missing.
	Value   *float64 `gorm:"column:value;type:double precision"`
	Sources int      `gorm:"column:sources;not null"`
}

// Sink appends series rows to a SQL table
type Sink struct {
	log   logrus.FieldLogger
	db    *gorm.DB
	table string
}

var _ sink.TableSink = (*Sink)(nil)

// Open connects, pings and migrates the table.
func Open(ctx context.Context, log logrus.FieldLogger, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log = log.WithField("component", "sqlsink")

	dialector, err := newDialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	s := &Sink{
		log:   log,
		db:    db,
		table: cfg.Table,
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		s.Close() //nolint:errcheck,gosec // already failing

		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Driver, err)
	}

	if err := db.WithContext(ctx).Table(s.table).AutoMigrate(&Row{}); err != nil {
		s.Close() //nolint:errcheck,gosec // already failing

		return nil, fmt.Errorf("failed to migrate table %s: %w", s.table, err)
	}

	s.log.WithFields(logrus.Fields{
		"driver": cfg.Driver,
		"table":  cfg.Table,
	}).Info("Connected SQL sink")

	return s, nil
}

// newDialector returns the gorm dialector of cfg. SQLite runs on the pure
// Go modernc driver, PostgreSQL on lib/pq.
func newDialector(cfg Config) (gorm.Dialector, error) {
	if cfg.Driver == DriverPostgres {
		return postgres.New(postgres.Config{DriverName: "postgres", DSN: cfg.DSN}), nil
	}

	conn, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// one writer at a time
	conn.SetMaxOpenConns(1)

	return sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: cfg.DSN, Conn: conn}), nil
}

// Name implements sink.TableSink.
func (s *Sink) Name() string { return "sql" }

// WriteTable implements sink.TableSink. All rows of t are inserted in one
// transaction.
func (s *Sink) WriteTable(ctx context.Context, t sink.Table) error {
	rows := make([]Row, 0, t.Series.Len()*len(t.Series.Columns))

	for _, obs := range t.Series.Observations {
		for i, column := range t.Series.Columns {
			r := Row{
				RunID:     t.RunID,
				Dataset:   t.Series.Dataset,
				Export:    t.Name,
				TimeLabel: obs.Label,
				Column:    column,
				Sources:   obs.Sources,
			}

			if !obs.Missing(i) {
				v := obs.Values[i]
				r.Value = &v
			}

			rows = append(rows, r)
		}
	}

	if len(rows) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(s.table).CreateInBatches(rows, insertBatch).Error; err != nil {
			return fmt.Errorf("insert %s: %w", t.Name, err)
		}

		return nil
	})
}

// Rows returns the rows stored for a run, ordered by time label then column.
func (s *Sink) Rows(ctx context.Context, runID string) ([]Row, error) {
	var out []Row

	err := s.db.WithContext(ctx).
		Table(s.table).
		Where("run_id = ?", runID).
		Order("time_label, column_name").
		Find(&out).Error

	return out, err
}

// Close closes the database handle.
func (s *Sink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Series rebuilds the wide series of one export from stored rows. Labels
// that do not parse leave the observation time zero.
func Series(rows []Row, columns []string) *raster.Series {
	series := &raster.Series{Columns: columns}
	index := make(map[string]int, len(columns))

	for i, c := range columns {
		index[c] = i
	}

	byLabel := make(map[string]int)

	for _, r := range rows {
		series.Dataset = r.Dataset

		pos, ok := byLabel[r.TimeLabel]
		if !ok {
			pos = len(series.Observations)
			byLabel[r.TimeLabel] = pos
			ts, _, _ := window.ParseLabel(r.TimeLabel)
			obs := raster.MissingObservation(ts, r.TimeLabel, len(columns))
			obs.Sources = r.Sources
			series.Observations = append(series.Observations, obs)
		}

		if i, ok := index[r.Column]; ok && r.Value != nil {
			series.Observations[pos].Values[i] = *r.Value
		}
	}

	return series
}
