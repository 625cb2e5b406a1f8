package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNoTransaction se devuelve (envuelto en StorageError) cuando una
// operación del store recibe una transacción nil o de otro motor.
var ErrNoTransaction = errors.New("outbox: no active transaction")

// StorageError envuelve cualquier fallo del almacenamiento outbox. Aborta la
// transacción en curso; el add lo reintenta el llamante y las operaciones del
// relay se reintentan en el siguiente ciclo.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("outbox %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Record es la representación persistida de un evento en cola de entrega.
// Un registro está pendiente mientras DispatchedAt sea nil; solo el relay
// lo marca como despachado, y únicamente tras el ack del broker.
type Record struct {
	ID           uuid.UUID
	Topic        string
	Payload      []byte
	Compressed   bool
	FailureCount int
	CreatedAt    time.Time
	DispatchedAt *time.Time
}

// Dispatched indica si el registro ya fue entregado al broker.
func (r Record) Dispatched() bool { return r.DispatchedAt != nil }

// Tx es el alcance transaccional que comparten la escritura de negocio y el
// outbox. Cada store acepta solo transacciones de su propio motor.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner abre transacciones para el relay.
type TxBeginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Store es el log duradero y ordenado de registros pendientes/despachados.
//
// ClaimBatch selecciona hasta limit registros pendientes, los más antiguos
// primero, y los bloquea durante la transacción de modo que instancias de
// relay concurrentes obtengan lotes disjuntos (lock de fila con salto de
// filas ya bloqueadas, no con espera). Un registro con demasiados fallos de
// decodificación queda fuera de los claims siguientes.
type Store interface {
	Add(ctx context.Context, tx Tx, rec Record) error
	ClaimBatch(ctx context.Context, tx Tx, limit int) ([]Record, error)
	MarkDispatched(ctx context.Context, tx Tx, ids []uuid.UUID) error
	MarkFailed(ctx context.Context, tx Tx, ids []uuid.UUID) error
	Get(ctx context.Context, tx Tx, id uuid.UUID) (*Record, error)
}

type txKey struct{}

// WithTx guarda la transacción en el contexto para que el emitter y los
// repositorios de negocio compartan el mismo alcance transaccional.
func WithTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext recupera la transacción del contexto, si la hay.
func TxFromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(Tx)
	return tx, ok
}
