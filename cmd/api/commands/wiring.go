package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	httpHandlers "github.com/telemind/core/internal/adapters/http"
	"github.com/telemind/core/internal/adapters/llm"
	"github.com/telemind/core/internal/adapters/repository"
	firestoreRepo "github.com/telemind/core/internal/adapters/repository/firestore"
	"github.com/telemind/core/internal/adapters/repository/memory"
	"github.com/telemind/core/internal/adapters/telegram"
	"github.com/telemind/core/internal/application/services"
	"github.com/telemind/core/internal/infrastructure/config"
	"github.com/telemind/core/internal/infrastructure/database"
	"github.com/telemind/core/internal/infrastructure/logger"
	"github.com/telemind/core/internal/infrastructure/metrics"
	"github.com/telemind/core/internal/infrastructure/server"
	"github.com/telemind/core/internal/ports"
)

// backend holds the storage adapters selected by configuration
type backend struct {
	tasks         ports.TaskRepository
	conversations ports.ConversationRepository
	profiles      ports.ProfileRepository
	attachments   ports.AttachmentSink
	dedup         ports.EventDeduplicator
	checks        map[string]server.HealthCheck
	closers       []func() error
}

func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	b := &backend{checks: make(map[string]server.HealthCheck)}

	var db *database.DB
	switch cfg.Database.Driver {
	case "postgres":
		var err error
		db, err = database.New(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		b.checks["database"] = db.HealthCheck

		b.tasks = repository.NewTaskRepository(db.DB)
		b.conversations = repository.NewConversationRepository(db.DB)
		b.profiles = repository.NewProfileRepository(db.DB)
		b.attachments = repository.NewAttachmentRepository(db.DB)

	case "firestore":
		store, err := firestoreRepo.NewStore(ctx, cfg.Firestore.ProjectID, cfg.Firestore.Collection)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, store.Close)
		b.checks["firestore"] = store.Ping

		b.tasks = store
		b.conversations = store
		b.profiles = store
		b.attachments = store
		if cfg.Dedup.Backend == "firestore" {
			b.dedup = store
		}

	case "memory":
		log.Warn("Using in-memory storage; tasks are lost on restart")
		b.tasks = memory.NewTaskStore()
		b.conversations = memory.NewConversationStore()
		b.profiles = memory.NewProfileStore()
		b.attachments = memory.NewAttachmentStore()

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	switch cfg.Dedup.Backend {
	case "postgres":
		if db != nil {
			b.dedup = repository.NewEventRepository(db.DB)
		}
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache := repository.NewEventCache(client)
		b.closers = append(b.closers, client.Close)
		b.checks["redis"] = cache.Ping
		b.dedup = cache
	case "memory":
		b.dedup = memory.NewEventStore()
	}
	if b.dedup == nil {
		b.Close()
		return nil, fmt.Errorf("dedup backend %q is not available with driver %q", cfg.Dedup.Backend, cfg.Database.Driver)
	}

	return b, nil
}

// Close releases every backend connection
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// app is the fully wired engine
type app struct {
	backend   *backend
	metrics   *metrics.Metrics
	auth      *services.AuthService
	tasks     *services.TaskService
	scanner   *services.Scanner
	assistant *services.AssistantService
}

func buildApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	model, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to initialize language model: %w", err)
	}

	var summarizer ports.Summarizer = services.NewHeuristicSummarizer(cfg.Memory.SummaryMaxChars)
	if model != nil {
		summarizer = services.NewModelSummarizer(model, cfg.Memory.SummaryMaxChars, log)
	}

	var (
		m        *metrics.Metrics
		observer services.ScanObserver
	)
	if cfg.Metrics.Enabled {
		m = metrics.New("telemind")
		observer = m
	}

	transport := telegram.NewClient(cfg.Telegram, log)
	tasks := services.NewTaskService(b.tasks, log)
	scanner := services.NewScanner(b.tasks, transport, cfg.Scanner, observer, log)

	assistant := services.NewAssistantService(services.AssistantDeps{
		Tasks:       tasks,
		Extractor:   services.NewIntentExtractor(services.NewTimeResolver(), model, cfg.LLM.MinConfidence, log),
		Scanner:     scanner,
		Memory:      services.NewMemoryWindow(b.conversations, summarizer, cfg.Memory, log),
		Profiles:    b.profiles,
		Dedup:       b.dedup,
		Messenger:   transport,
		Model:       model,
		Attachments: b.attachments,
	}, cfg.Assistant, cfg.Dedup.Window, log)

	return &app{
		backend:   b,
		metrics:   m,
		auth:      services.NewAuthService(cfg.JWT, cfg.Auth, log),
		tasks:     tasks,
		scanner:   scanner,
		assistant: assistant,
	}, nil
}

func (a *app) server(cfg *config.Config, log *logger.Logger) *server.Server {
	return server.New(cfg, server.Handlers{
		Webhook: httpHandlers.NewWebhookHandler(a.assistant, cfg.Telegram.WebhookSecret, log),
		Auth:    httpHandlers.NewAuthHandler(a.auth, log),
		Scan:    httpHandlers.NewScanHandler(a.scanner, log),
		Tasks:   httpHandlers.NewTaskHandler(a.tasks, log),
	}, a.auth, a.metrics, a.backend.checks, log)
}
