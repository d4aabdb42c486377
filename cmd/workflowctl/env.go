package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/songzhibin97/entity-workflow/definition"
	"github.com/songzhibin97/entity-workflow/events"
	"github.com/songzhibin97/entity-workflow/internal/config"
	"github.com/songzhibin97/entity-workflow/storage"
	"github.com/songzhibin97/entity-workflow/types"
	"github.com/songzhibin97/entity-workflow/workflow"
)

// entity is the document shape workflowctl stores for every provider.
type entity = map[string]any

// environment wires config, definitions, storage and the manager for one command.
type environment struct {
	cfg       *config.Config
	logger    *slog.Logger
	workflows []*workflow.Workflow
	store     storage.Store
	entities  workflow.EntityRepositoryMap
	bus       *events.Bus
	manager   *workflow.Manager
	closeFn   func() error
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	cfg.Definitions = append(cfg.Definitions, opts.definitions...)
	if len(cfg.Definitions) == 0 {
		return nil, errors.New("no workflow definitions given, use --definition or the config file")
	}
	return cfg, nil
}

func loadWorkflows(cfg *config.Config, logger *slog.Logger) ([]*workflow.Workflow, error) {
	builder := definition.NewBuilder(definition.WithLogger(logger))
	return builder.LoadFiles(cfg.Definitions...)
}

// openEnvironment loads everything a state changing command needs. Logs go to logOut.
func openEnvironment(opts *rootOptions, logOut io.Writer) (*environment, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := config.NewLogger(cfg.Log, logOut)

	workflows, err := loadWorkflows(cfg, logger)
	if err != nil {
		return nil, err
	}

	env := &environment{cfg: cfg, logger: logger, workflows: workflows, entities: workflow.EntityRepositoryMap{}}
	if err := env.openStorage(); err != nil {
		return nil, err
	}

	env.bus = events.NewBus(events.WithLogger(logger))
	env.bus.SubscribeFunc(events.TypeTransitionFailed, func(_ context.Context, e events.Event) error {
		logger.Warn("transition failed", "entity_id", e.EntityID, "workflow", e.Workflow, "transition", e.Transition)
		return nil
	})

	factory, err := workflow.NewHandlerFactory(env.entities, env.store,
		workflow.WithEventBus(env.bus),
		workflow.WithFactoryLogger(logger),
	)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.manager, err = workflow.NewManager(factory, env.store,
		workflow.WithLogger(logger),
		workflow.WithWorkflows(workflows...),
	)
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func (e *environment) openStorage() error {
	providers := make(map[string]struct{})
	for _, wf := range e.workflows {
		providers[wf.ProviderName()] = struct{}{}
	}

	switch e.cfg.Storage.Driver {
	case config.DriverMemory:
		store := storage.NewMemoryStorage()
		for p := range providers {
			e.entities[p] = storage.NewMemoryEntityRepository[entity](store, p)
		}
		e.store = store
		e.closeFn = func() error { return nil }
	case config.DriverSQLite:
		store, err := storage.NewSQLStorage(storage.SQLConfig{
			Path: e.cfg.Storage.SQLite.Path,
			WAL:  e.cfg.Storage.SQLite.WAL,
		})
		if err != nil {
			return err
		}
		for p := range providers {
			e.entities[p] = storage.NewSQLEntityRepository[entity](store, p)
		}
		e.store = store
		e.closeFn = store.Close
	case config.DriverRedis:
		rc := e.cfg.Storage.Redis
		store, err := storage.NewRedisStorage(storage.RedisOptions{
			Addr:         rc.Addr,
			Password:     rc.Password,
			DB:           rc.DB,
			PoolSize:     rc.PoolSize,
			MinIdleConns: rc.MinIdleConns,
			IdleTimeout:  rc.IdleTimeout,
			KeyPrefix:    rc.KeyPrefix,
		})
		if err != nil {
			return err
		}
		for p := range providers {
			e.entities[p] = storage.NewRedisEntityRepository[entity](store, p)
		}
		e.store = store
		e.closeFn = store.Close
	default:
		return fmt.Errorf("unsupported storage driver %q", e.cfg.Storage.Driver)
	}
	return nil
}

// Close stops the event bus after it drained and closes the store.
func (e *environment) Close() error {
	if e.bus != nil {
		e.bus.Stop()
	}
	if e.closeFn != nil {
		return e.closeFn()
	}
	return nil
}

// loadItem loads the stored entity and rebuilds its item. Unknown entities
// start from an empty document.
func (e *environment) loadItem(ctx context.Context, id types.EntityID) (*workflow.Item, error) {
	repo, err := e.entities.EntityRepository(id.ProviderName())
	if err != nil {
		return nil, fmt.Errorf("no workflow handles provider %q", id.ProviderName())
	}
	doc := entity{}
	found, err := repo.Find(ctx, id)
	switch {
	case err == nil:
		if stored, ok := found.(entity); ok && stored != nil {
			doc = stored
		}
	case errors.Is(err, storage.ErrEntityNotFound):
	default:
		return nil, err
	}
	return e.manager.CreateItem(ctx, id, doc)
}

// workflowOf returns the workflow item is in, or the one that would claim it.
func (e *environment) workflowOf(item *workflow.Item) (*workflow.Workflow, error) {
	if item.IsWorkflowStarted() {
		return e.manager.GetWorkflowByName(item.WorkflowName())
	}
	return e.manager.GetWorkflow(item.EntityID(), item.Entity())
}
