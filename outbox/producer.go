package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davicafu/cqrslab/broker"
	"github.com/davicafu/cqrslab/compress"
)

// Auditor recibe, tras el commit, los registros despachados en cada ciclo.
// Pensado para sinks de auditoría/analítica; sus errores no afectan al relay.
type Auditor interface {
	RecordDispatched(ctx context.Context, recs []Record) error
}

// Config ajusta el relay. Los ceros toman valores por defecto.
type Config struct {
	Interval    time.Duration // periodo de polling (2s por defecto)
	BatchSize   int           // registros por ciclo (50 por defecto)
	MaxFailures int           // fallos de decodificación antes de aparcar un registro (5 por defecto)
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
}

// Producer drena periódicamente la tabla outbox hacia el broker. Cada ciclo
// es independiente e idempotente a nivel de registro: un lote fallido queda
// pendiente y se reintenta entero en el siguiente ciclo.
type Producer struct {
	store      Store
	db         TxBeginner
	broker     broker.Broker
	compressor compress.Compressor
	audit      Auditor
	cfg        Config
	log        *zap.Logger
}

func NewProducer(store Store, db TxBeginner, b broker.Broker, compressor compress.Compressor, cfg Config, log *zap.Logger) *Producer {
	cfg.applyDefaults()
	return &Producer{
		store:      store,
		db:         db,
		broker:     b,
		compressor: compressor,
		cfg:        cfg,
		log:        log,
	}
}

// WithAuditor registra un sink de auditoría opcional.
func (p *Producer) WithAuditor(a Auditor) *Producer {
	p.audit = a
	return p
}

// Start ejecuta el bucle de polling hasta que se cancele el contexto. La
// cancelación se comprueba al inicio de cada ciclo; el ciclo en vuelo corre
// sobre un contexto desacoplado para poder terminar su transacción.
func (p *Producer) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info("🚀 Outbox producer iniciado",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("🛑 Outbox producer detenido.")
			return
		case <-ticker.C:
			if err := p.ProduceBatch(context.WithoutCancel(ctx)); err != nil {
				p.log.Warn("⚠️ Ciclo de outbox fallido, se reintenta en el siguiente intervalo", zap.Error(err))
			}
		}
	}
}

// ProduceBatch ejecuta un ciclo del relay: claim → publish → mark → commit.
// Si cualquier publish falla, la transacción se aborta y el lote completo
// queda pendiente: se acepta el duplicado bajo semántica at-least-once antes
// que el progreso parcial.
func (p *Producer) ProduceBatch(ctx context.Context) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return &StorageError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	recs, err := p.store.ClaimBatch(ctx, tx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return tx.Commit(ctx)
	}
	p.log.Debug("📬 Registros reclamados", zap.Int("count", len(recs)))

	var dispatched []uuid.UUID
	var corrupt []uuid.UUID
	var published []Record
	for _, rec := range recs {
		body, err := p.decode(rec)
		if err != nil {
			// Registro envenenado: se cuenta el fallo y se sigue con el
			// resto del lote. ClaimBatch lo aparca al llegar al máximo.
			p.log.Error("Payload de outbox ilegible",
				zap.String("record_id", rec.ID.String()),
				zap.Int("failure_count", rec.FailureCount+1),
				zap.Error(err),
			)
			corrupt = append(corrupt, rec.ID)
			continue
		}

		if err := p.publish(ctx, rec, body); err != nil {
			return err
		}
		dispatched = append(dispatched, rec.ID)
		published = append(published, rec)
	}

	if err := p.store.MarkDispatched(ctx, tx, dispatched); err != nil {
		return err
	}
	if err := p.store.MarkFailed(ctx, tx, corrupt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &StorageError{Op: "commit", Err: err}
	}

	if p.audit != nil && len(published) > 0 {
		if err := p.audit.RecordDispatched(ctx, published); err != nil {
			p.log.Warn("⚠️ No se pudo registrar el lote en el sink de auditoría", zap.Error(err))
		}
	}

	p.log.Info("✅ Lote de outbox despachado",
		zap.Int("dispatched", len(dispatched)),
		zap.Int("corrupt", len(corrupt)),
	)
	return nil
}

// ProduceOne despacha un único registro por id, fuera del ciclo periódico.
func (p *Producer) ProduceOne(ctx context.Context, id uuid.UUID) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return &StorageError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := p.store.Get(ctx, tx, id)
	if err != nil {
		return err
	}
	if rec == nil || rec.Dispatched() {
		return tx.Commit(ctx)
	}

	body, err := p.decode(*rec)
	if err != nil {
		if err := p.store.MarkFailed(ctx, tx, []uuid.UUID{rec.ID}); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return &StorageError{Op: "commit", Err: err}
		}
		return fmt.Errorf("outbox record %s: %w", rec.ID, err)
	}

	if err := p.publish(ctx, *rec, body); err != nil {
		return err
	}
	if err := p.store.MarkDispatched(ctx, tx, []uuid.UUID{rec.ID}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &StorageError{Op: "commit", Err: err}
	}

	if p.audit != nil {
		if err := p.audit.RecordDispatched(ctx, []Record{*rec}); err != nil {
			p.log.Warn("⚠️ No se pudo registrar el despacho en el sink de auditoría", zap.Error(err))
		}
	}
	return nil
}

func (p *Producer) decode(rec Record) ([]byte, error) {
	if !rec.Compressed {
		return rec.Payload, nil
	}
	if p.compressor == nil {
		return nil, fmt.Errorf("compressed record %s without codec configured", rec.ID)
	}
	return p.compressor.Decompress(rec.Payload)
}

func (p *Producer) publish(ctx context.Context, rec Record, body []byte) error {
	return p.broker.Publish(ctx, broker.Message{
		Topic: rec.Topic,
		Key:   []byte(rec.ID.String()),
		Value: body,
		Headers: map[string]string{
			broker.HeaderEventID: rec.ID.String(),
		},
	})
}
