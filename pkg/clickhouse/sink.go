package clickhouse

import (
	"context"
	"fmt"

	"github.com/ethpandaops/gridstat/pkg/sink"
	"github.com/sirupsen/logrus"
)

// observationRow is one JSONEachRow line; a nil Value inserts NULL
type observationRow struct {
	RunID     string   `json:"run_id"`
	Dataset   string   `json:"dataset"`
	Export    string   `json:"export"`
	TimeLabel string   `json:"time_label"`
	Column    string   `json:"column_name"`
	Value     *float64 `json:"value"`
	Sources   int      `json:"sources"`
}

// Sink appends series to a ClickHouse table in long format
type Sink struct {
	log      logrus.FieldLogger
	client   ClientInterface
	database string
	name     string
	table    string
}

var _ sink.TableSink = (*Sink)(nil)

// NewSink creates a sink writing to the configured table through client.
func NewSink(log logrus.FieldLogger, client ClientInterface, cfg *Config) *Sink {
	return &Sink{
		log:      log.WithField("component", "clickhouse-sink"),
		client:   client,
		database: cfg.MapDatabase(cfg.Database),
		name:     cfg.Table,
		table:    cfg.QualifiedTable(),
	}
}

// Setup connects and creates the destination table unless it exists.
func (s *Sink) Setup(ctx context.Context, cluster string) error {
	if err := s.client.Start(ctx); err != nil {
		return err
	}

	exists, err := TableExists(ctx, s.client, s.database, s.name)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", s.table, err)
	}

	if exists {
		s.log.WithField("table", s.table).Info("Using existing observations table")
		return nil
	}

	if err := CreateObservationsTable(ctx, s.client, s.table, cluster); err != nil {
		return err
	}

	s.log.WithField("table", s.table).Info("Created observations table")

	return nil
}

// Name implements sink.TableSink.
func (s *Sink) Name() string { return "clickhouse" }

// WriteTable implements sink.TableSink.
func (s *Sink) WriteTable(ctx context.Context, t sink.Table) error {
	rows := make([]observationRow, 0, t.Series.Len()*len(t.Series.Columns))

	for _, obs := range t.Series.Observations {
		for i, column := range t.Series.Columns {
			row := observationRow{
				RunID:     t.RunID,
				Dataset:   t.Series.Dataset,
				Export:    t.Name,
				TimeLabel: obs.Label,
				Column:    column,
				Sources:   obs.Sources,
			}

			if !obs.Missing(i) {
				v := obs.Values[i]
				row.Value = &v
			}

			rows = append(rows, row)
		}
	}

	if err := s.client.BulkInsert(ctx, s.table, rows); err != nil {
		return fmt.Errorf("insert into %s: %w", s.table, err)
	}

	s.log.WithFields(logrus.Fields{
		"table": s.table,
		"rows":  len(rows),
	}).Debug("Inserted observations")

	return nil
}

// Close stops the client.
func (s *Sink) Close() error {
	return s.client.Stop()
}
