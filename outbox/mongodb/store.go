package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/davicafu/cqrslab/outbox"
)

// Store implementa outbox.Store sobre MongoDB. Mongo no tiene SKIP LOCKED,
// así que el claim se hace con leases: cada FindOneAndUpdate atómico marca el
// documento con claimed_until, y los relays concurrentes obtienen documentos
// disjuntos. Requiere replica set para las transacciones de sesión.
type Store struct {
	coll        *mongo.Collection
	client      *mongo.Client
	maxFailures int
	lease       time.Duration
}

func NewStore(client *mongo.Client, dbName string, maxFailures int, lease time.Duration) *Store {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &Store{
		coll:        client.Database(dbName).Collection("outbox"),
		client:      client,
		maxFailures: maxFailures,
		lease:       lease,
	}
}

type mongoTx struct {
	sess mongo.Session
}

func (t *mongoTx) Commit(ctx context.Context) error {
	defer t.sess.EndSession(ctx)
	return t.sess.CommitTransaction(ctx)
}

func (t *mongoTx) Rollback(ctx context.Context) error {
	defer t.sess.EndSession(ctx)
	return t.sess.AbortTransaction(ctx)
}

func (s *Store) Begin(ctx context.Context) (outbox.Tx, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, &outbox.StorageError{Op: "begin", Err: err}
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return nil, &outbox.StorageError{Op: "begin", Err: err}
	}
	return &mongoTx{sess: sess}, nil
}

func (s *Store) sessionCtx(ctx context.Context, tx outbox.Tx) (mongo.SessionContext, *outbox.StorageError) {
	wrapped, ok := tx.(*mongoTx)
	if !ok || wrapped == nil {
		return nil, &outbox.StorageError{Op: "tx", Err: outbox.ErrNoTransaction}
	}
	return mongo.NewSessionContext(ctx, wrapped.sess), nil
}

// mongoRecord mapea los documentos de la colección outbox. El id se guarda
// como string para no depender de la codificación BSON de uuid.UUID.
type mongoRecord struct {
	ID           string     `bson:"_id"`
	Topic        string     `bson:"topic"`
	Payload      []byte     `bson:"payload"`
	Compressed   bool       `bson:"isCompressed"`
	FailureCount int        `bson:"failureCount"`
	CreatedAt    time.Time  `bson:"createdAt"`
	DispatchedAt *time.Time `bson:"dispatchedAt,omitempty"`
	ClaimedUntil *time.Time `bson:"claimedUntil,omitempty"`
}

func (s *Store) Add(ctx context.Context, tx outbox.Tx, rec outbox.Record) error {
	sctx, serr := s.sessionCtx(ctx, tx)
	if serr != nil {
		return serr
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.coll.InsertOne(sctx, mongoRecord{
		ID:         rec.ID.String(),
		Topic:      rec.Topic,
		Payload:    rec.Payload,
		Compressed: rec.Compressed,
		CreatedAt:  rec.CreatedAt,
	})
	if err != nil {
		return &outbox.StorageError{Op: "add", Err: err}
	}
	return nil
}

func (s *Store) ClaimBatch(ctx context.Context, tx outbox.Tx, limit int) ([]outbox.Record, error) {
	sctx, serr := s.sessionCtx(ctx, tx)
	if serr != nil {
		return nil, serr
	}

	now := time.Now().UTC()
	filter := bson.M{
		"dispatchedAt": bson.M{"$exists": false},
		"failureCount": bson.M{"$lt": s.maxFailures},
		"$or": bson.A{
			bson.M{"claimedUntil": bson.M{"$exists": false}},
			bson.M{"claimedUntil": bson.M{"$lt": now}},
		},
	}
	update := bson.M{"$set": bson.M{"claimedUntil": now.Add(s.lease)}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetReturnDocument(options.After)

	var recs []outbox.Record
	for i := 0; i < limit; i++ {
		var doc mongoRecord
		err := s.coll.FindOneAndUpdate(sctx, filter, update, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return nil, &outbox.StorageError{Op: "claim", Err: err}
		}
		recs = append(recs, fromMongoRecord(doc))
	}
	return recs, nil
}

func (s *Store) MarkDispatched(ctx context.Context, tx outbox.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	sctx, serr := s.sessionCtx(ctx, tx)
	if serr != nil {
		return serr
	}

	_, err := s.coll.UpdateMany(sctx,
		bson.M{"_id": bson.M{"$in": idStrings(ids)}},
		bson.M{
			"$set":   bson.M{"dispatchedAt": time.Now().UTC()},
			"$unset": bson.M{"claimedUntil": ""},
		},
	)
	if err != nil {
		return &outbox.StorageError{Op: "mark_dispatched", Err: err}
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, tx outbox.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	sctx, serr := s.sessionCtx(ctx, tx)
	if serr != nil {
		return serr
	}

	_, err := s.coll.UpdateMany(sctx,
		bson.M{"_id": bson.M{"$in": idStrings(ids)}},
		bson.M{
			"$inc":   bson.M{"failureCount": 1},
			"$unset": bson.M{"claimedUntil": ""},
		},
	)
	if err != nil {
		return &outbox.StorageError{Op: "mark_failed", Err: err}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, tx outbox.Tx, id uuid.UUID) (*outbox.Record, error) {
	sctx, serr := s.sessionCtx(ctx, tx)
	if serr != nil {
		return nil, serr
	}

	var doc mongoRecord
	err := s.coll.FindOne(sctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, &outbox.StorageError{Op: "get", Err: err}
	}
	rec := fromMongoRecord(doc)
	return &rec, nil
}

func fromMongoRecord(doc mongoRecord) outbox.Record {
	id, _ := uuid.Parse(doc.ID)
	return outbox.Record{
		ID:           id,
		Topic:        doc.Topic,
		Payload:      doc.Payload,
		Compressed:   doc.Compressed,
		FailureCount: doc.FailureCount,
		CreatedAt:    doc.CreatedAt,
		DispatchedAt: doc.DispatchedAt,
	}
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// Verificación en tiempo de compilación.
var (
	_ outbox.Store      = (*Store)(nil)
	_ outbox.TxBeginner = (*Store)(nil)
)
