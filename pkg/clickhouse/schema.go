package clickhouse

import (
	"context"
	"fmt"
)

// TableExists checks if a table exists in the given database
func TableExists(ctx context.Context, client ClientInterface, database, table string) (bool, error) {
	query := fmt.Sprintf(`
		SELECT count() as count
		FROM system.tables
		WHERE database = '%s' AND name = '%s'
	`, database, table)

	var result struct {
		Count uint64 `json:"count,string"`
	}

	if err := client.QueryOne(ctx, query, &result); err != nil {
		return false, err
	}

	return result.Count > 0, nil
}

// CreateObservationsTable creates the long-format observations table if it
// does not exist. Rows are deduplicated per run, export, time label and column.
func CreateObservationsTable(ctx context.Context, client ClientInterface, qualifiedTable, cluster string) error {
	onCluster := ""
	if cluster != "" {
		onCluster = fmt.Sprintf(" ON CLUSTER '%s'", cluster)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s%s (
			updated_date_time DateTime DEFAULT now(),
			run_id String,
			dataset LowCardinality(String),
			export String,
			time_label String,
			column_name LowCardinality(String),
			value Nullable(Float64),
			sources UInt32
		) ENGINE = ReplacingMergeTree(updated_date_time)
		ORDER BY (dataset, export, run_id, time_label, column_name)
	`, qualifiedTable, onCluster)

	if _, err := client.Execute(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s: %w", qualifiedTable, err)
	}

	return nil
}
