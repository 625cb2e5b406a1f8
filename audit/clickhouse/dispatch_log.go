package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/davicafu/cqrslab/outbox"
)

// DispatchLog guarda en ClickHouse un rastro de los registros despachados por
// el relay. Es un sink de auditoría: sus fallos se registran y se ignoran, no
// tocan la semántica at-least-once del outbox.
type DispatchLog struct {
	db *sql.DB
}

// NewDispatchLog es el constructor.
func NewDispatchLog(addr string, dbName string) (*DispatchLog, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &DispatchLog{db: conn}, nil
}

// RecordDispatched inserta el lote despachado. ClickHouse funciona mejor con
// inserciones en lotes.
func (d *DispatchLog) RecordDispatched(ctx context.Context, recs []outbox.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO outbox_dispatch_log (record_id, topic, payload_bytes, is_compressed, created_at, dispatch_time)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	dispatchTime := time.Now().UTC()
	for _, rec := range recs {
		if _, err := stmt.ExecContext(
			ctx,
			rec.ID,
			rec.Topic,
			uint64(len(rec.Payload)),
			rec.Compressed,
			rec.CreatedAt,
			dispatchTime,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for record %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// InitSchema crea la tabla de auditoría en ClickHouse si no existe.
func (d *DispatchLog) InitSchema() error {
	// Particionada por mes y ordenada por los campos de consulta habituales.
	query := `
		CREATE TABLE IF NOT EXISTS outbox_dispatch_log (
			record_id     UUID,
			topic         String,
			payload_bytes UInt64,
			is_compressed Bool,
			created_at    DateTime64(3),
			dispatch_time DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(dispatch_time)
		ORDER BY (topic, dispatch_time);
	`
	_, err := d.db.Exec(query)
	return err
}

// Verificación estática de la interfaz.
var _ outbox.Auditor = (*DispatchLog)(nil)
