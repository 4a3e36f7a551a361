// Package telemetry sinks ConsolidationEngine cycle metrics into
// ClickHouse, grounded on internal/agentd/metrics_clickhouse.go's
// clickhouse-go/v2 connection and insert pattern.
package telemetry

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"

	"lumina/internal/config"
)

// ConsolidationSink records one row per ConsolidationEngine cycle.
// A nil *ConsolidationSink is a no-op, so callers never branch on
// whether ClickHouse is configured.
type ConsolidationSink struct {
	conn  clickhouse.Conn
	table string
	log   zerolog.Logger
}

// NewConsolidationSink returns nil, nil when cfg.Enabled is false.
func NewConsolidationSink(ctx context.Context, cfg config.ClickHouseConfig, log zerolog.Logger) (*ConsolidationSink, error) {
	if !cfg.Enabled || cfg.DSN == "" {
		return nil, nil
	}
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = "consolidation_cycles"
	}
	return &ConsolidationSink{conn: conn, table: table, log: log}, nil
}

// RecordCycle inserts one cycle's metrics. Errors are logged and
// swallowed: a telemetry sink failure must never fail the
// consolidation cycle it's reporting on.
func (s *ConsolidationSink) RecordCycle(ctx context.Context, characterID string, factsAdded, insightsAdded int, elapsed time.Duration) {
	if s == nil {
		return
	}
	err := s.conn.Exec(ctx,
		"INSERT INTO "+s.table+" (ts, character_id, facts_added, insights_added, elapsed_ms) VALUES (?, ?, ?, ?, ?)",
		time.Now(), characterID, factsAdded, insightsAdded, elapsed.Milliseconds(),
	)
	if err != nil {
		s.log.Warn().Err(err).Msg("telemetry: clickhouse insert failed")
	}
}

// Close closes the underlying connection.
func (s *ConsolidationSink) Close() error {
	if s == nil {
		return nil
	}
	return s.conn.Close()
}
