package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	clickhouseAudit "github.com/davicafu/cqrslab/audit/clickhouse"
	"github.com/davicafu/cqrslab/bootstrap"
	"github.com/davicafu/cqrslab/broker"
	amqpBroker "github.com/davicafu/cqrslab/broker/amqp"
	kafkaBroker "github.com/davicafu/cqrslab/broker/kafka"
	"github.com/davicafu/cqrslab/broker/memory"
	redisBroker "github.com/davicafu/cqrslab/broker/redisstream"
	"github.com/davicafu/cqrslab/compress"
	"github.com/davicafu/cqrslab/events"
	"github.com/davicafu/cqrslab/internal/config"
	"github.com/davicafu/cqrslab/internal/rooms"
	"github.com/davicafu/cqrslab/mediator"
	"github.com/davicafu/cqrslab/outbox"
	sqlitestore "github.com/davicafu/cqrslab/outbox/sqlite"
	"github.com/davicafu/cqrslab/pkg/logger"
	"github.com/davicafu/cqrslab/pkg/retry"
	"github.com/davicafu/cqrslab/requests"

	amqp091 "github.com/rabbitmq/amqp091-go"
	kafkago "github.com/segmentio/kafka-go"

	// _ "github.com/mattn/go-sqlite3" // requires gcc
	_ "modernc.org/sqlite"
)

// ---------------- Main ----------------
func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	logger.Init(cfg.LogLevel) // inicializa zap
	log := logger.Logger()    // obtiene logger estructurado
	defer log.Sync()          // flush buffers al salir

	// ---------------- DB ----------------
	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		log.Fatal("failed to open SQLite", zap.Error(err))
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping SQLite", zap.Error(err))
	}
	if err := sqlitestore.InitSchema(db); err != nil {
		log.Fatal("failed to initialize outbox schema", zap.Error(err))
	}

	roomRepo := rooms.NewRepo(db)
	if err := roomRepo.InitSchema(); err != nil {
		log.Fatal("failed to initialize rooms schema", zap.Error(err))
	}

	store := sqlitestore.NewStore(db, 5)

	// --------------- Mediator de eventos entrantes ---------------
	eventMediator := bootstrap.NewEventMediator(bootstrap.Config{
		DomainEvents: func(evs *events.Map) {
			rooms.RegisterEvents(evs, log)
		},
		Logger: log,
	})

	// ---------------- Broker ----------------
	var bk broker.Broker
	switch cfg.Broker {
	case "kafka":
		log.Info("🚀 Usando Kafka como bus de eventos")

		writer := kafkaBroker.NewWriter(cfg.KafkaBrokers)
		defer writer.Close()
		bk = kafkaBroker.NewPublisher(writer, log)

		reader := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    events.DeriveTopic(rooms.RoomClosed),
			GroupID:  "cqrslab-rooms",
			MinBytes: 10e3, // 10KB
			MaxBytes: 10e6, // 10MB
		})
		defer reader.Close()
		kafkaBroker.NewConsumer(reader, eventMediator, log).Start(ctx)

	case "amqp":
		log.Info("🚀 Usando RabbitMQ como bus de eventos")

		conn, err := amqp091.Dial(cfg.AMQPURL)
		if err != nil {
			log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
		}
		defer conn.Close()

		ch, err := conn.Channel()
		if err != nil {
			log.Fatal("failed to open AMQP channel", zap.Error(err))
		}
		defer ch.Close()

		if err := ch.ExchangeDeclare("cqrslab.events", "topic", true, false, false, false, nil); err != nil {
			log.Fatal("failed to declare AMQP exchange", zap.Error(err))
		}
		bk = amqpBroker.NewPublisher(ch, "cqrslab.events", log)

	case "redis":
		log.Info("🚀 Usando Redis Streams como bus de eventos")

		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := retry.Do(ctx, 3, time.Second, func() error {
			return rdb.Ping(ctx).Err()
		}); err != nil {
			log.Fatal("failed to ping Redis", zap.Error(err))
		}
		defer rdb.Close()
		bk = redisBroker.NewPublisher(rdb, log)

	default:
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")

		bus := memory.NewBus()
		bk = bus

		log.Info("🎧 Iniciando listener en memoria para eventos de sala")
		ch := bus.Subscribe(events.DeriveTopic(rooms.RoomClosed), 10)
		go consumeInMemory(ctx, ch, eventMediator, log)
	}

	// --------------- Mediator de requests ---------------
	requestMediator, err := bootstrap.NewRequestMediator(bootstrap.Config{
		Broker:     bk,
		Store:      store,
		Compressor: compress.NewZlib(),
		Commands: func(reqs *requests.Map) error {
			return rooms.RegisterCommands(reqs, roomRepo)
		},
		Queries: func(reqs *requests.Map) error {
			return rooms.RegisterQueries(reqs, roomRepo)
		},
		Logger: log,
	})
	if err != nil {
		log.Fatal("failed to build request mediator", zap.Error(err))
	}

	// ------------ Outbox Producer ------------
	// Se podría ejecutar externamente
	producer := outbox.NewProducer(store, store, bk, compress.NewZlib(), outbox.Config{
		Interval:  cfg.OutboxInterval,
		BatchSize: cfg.OutboxBatch,
	}, log)

	if cfg.ClickHouseAddr != "" {
		var auditLog *clickhouseAudit.DispatchLog
		err := retry.Do(ctx, 3, time.Second, func() error {
			var err error
			auditLog, err = clickhouseAudit.NewDispatchLog(cfg.ClickHouseAddr, "cqrslab")
			return err
		})
		if err != nil {
			log.Warn("⚠️ ClickHouse no disponible, auditoría deshabilitada", zap.Error(err))
		} else if err := auditLog.InitSchema(); err != nil {
			log.Warn("⚠️ No se pudo crear el esquema de auditoría", zap.Error(err))
		} else {
			producer.WithAuditor(auditLog)
			log.Info("✅ Auditoría de despachos en ClickHouse habilitada")
		}
	}
	go producer.Start(ctx)

	// ---------------- HTTP ----------------
	roomHandler := rooms.NewHTTPHandler(requestMediator, store, log)
	router := gin.Default()
	rooms.RegisterRoutes(router, roomHandler)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	log.Info("🚀 Server running",
		zap.String("url", "http://localhost:"+cfg.HTTPPort),
	)
	if err := router.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
}

// consumeInMemory drena un canal del bus en memoria hacia el mediator de
// eventos, decodificando cada mensaje igual que haría un consumidor real.
func consumeInMemory(ctx context.Context, ch <-chan broker.Message, m *mediator.EventMediator, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			event, err := decodeMessage(msg)
			if err != nil {
				log.Error("Mensaje en memoria ilegible", zap.String("topic", msg.Topic), zap.Error(err))
				continue
			}
			if err := m.Send(ctx, event); err != nil {
				log.Error("Fallo al despachar evento en memoria", zap.Error(err))
			}
		}
	}
}

func decodeMessage(msg broker.Message) (events.Event, error) {
	var payload map[string]any
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return nil, err
	}

	name := msg.Headers[broker.HeaderEventName]
	if name == "" {
		name = msg.Topic
	}

	event := events.NotificationEvent{
		Topic:     msg.Topic,
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if id, err := uuid.Parse(msg.Headers[broker.HeaderEventID]); err == nil {
		event.ID = id
	} else {
		event.ID = uuid.New()
	}
	return event, nil
}
