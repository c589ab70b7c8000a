package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"consultation/internal/audit"
	"consultation/internal/config"
	"consultation/internal/db"
	"consultation/internal/handler"
	"consultation/internal/kafka"
	"consultation/internal/logger"
	"consultation/internal/parcel"
	"consultation/internal/processor"
	"consultation/internal/repository"
	"consultation/internal/repository/memory"
	"consultation/internal/server"
	"consultation/internal/service"
	"consultation/internal/shipping"
	"consultation/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Error loading config: %v", err)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	cmd, args := "serve", []string(nil)
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}
	if err := run(cfg, log, cmd, args); err != nil {
		log.WithError(err).WithField("command", cmd).Error("command failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logrus.Logger, cmd string, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup("consultation", log)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.WithError(err).Warn("tracer shutdown")
		}
	}()

	var (
		repos    *repository.Store
		database *sql.DB
		mem      *memory.Store
	)
	if cfg.DSN != "" {
		var err error
		database, err = db.NewDB(cfg.DSN)
		if err != nil {
			return fmt.Errorf("connect to db: %w", err)
		}
		defer database.Close()
		repos = repository.NewPostgresStore(database)
	} else {
		var err error
		mem, err = memory.Open(cfg.FixturesFile)
		if err != nil {
			return err
		}
		repos = mem.Repositories()
		log.WithField("fixtures", cfg.FixturesFile).Info("APP_DSN not set, using in-memory store")
	}

	processors := []audit.Processor{audit.NewLogProcessor(log, "")}
	if database != nil {
		processors = append(processors, audit.NewDBProcessor(database))
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewSaramaProducer(cfg.KafkaBrokers, log)
		if err != nil {
			log.WithError(err).Warn("kafka producer unavailable, audit events stay local")
		} else {
			defer producer.Close()
			processors = append(processors, audit.NewKafkaProcessor(producer, cfg.KafkaAuditTopic))
		}
	}
	pool := audit.NewWorkerPool(audit.PoolConfig{
		BatchSize:   cfg.Audit.BatchSize,
		Timeout:     cfg.Audit.FlushInterval,
		ChannelSize: cfg.Audit.ChannelSize,
	}, log, processors...)
	auditCtx, cancelAudit := context.WithCancel(context.Background())
	pool.Start(auditCtx, cfg.Audit.Workers)
	defer pool.Shutdown(cancelAudit)

	dispatcher := shipping.NewDispatcher(
		repos,
		shipping.NewClient(cfg.Carrier),
		shipping.NewFileLabelStore(cfg.Shipping.LabelDir),
		parcel.NewService(cfg.Shipping.DefaultWeightGrams),
		log,
	)
	svc := service.New(repos, dispatcher, log, service.WithAudit(pool))
	proc := processor.NewShippingProcessor(repos.Tasks, dispatcher, pool, log, processor.Config{
		PollInterval: cfg.Shipping.RetryInterval,
		Limit:        cfg.Shipping.RetryBatch,
		MaxAttempts:  cfg.Shipping.RetryMaxAttempts,
		RetryDelay:   cfg.Shipping.RetryDelay,
	})

	deps := handler.Deps{
		Engine:     svc,
		Tasks:      repos.Tasks,
		Dispatcher: dispatcher,
		Processor:  proc,
		Server:     server.NewServer(svc, cfg.HTTPAddr, log),
		Out:        os.Stdout,
	}
	if len(cfg.KafkaBrokers) > 0 {
		deps.AuditTail = func(ctx context.Context, handle kafka.MessageHandler) error {
			return kafka.Consume(ctx, cfg.KafkaBrokers, "consultation-audit-tail", []string{cfg.KafkaAuditTopic}, handle, log)
		}
	}

	runErr := handler.New(deps).Execute(ctx, cmd, args)
	if mem != nil {
		if err := mem.Save(); err != nil {
			log.WithError(err).Error("save fixtures")
		}
	}
	return runErr
}
