// driftdb-host serves driftdb collections to worker clients over NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nats-io/nats.go"

	"driftdb/internal/config"
	"driftdb/internal/engine"
	"driftdb/internal/logging"
	"driftdb/internal/rpc"
	"driftdb/internal/storage"
	"driftdb/internal/storage/file"
	"driftdb/internal/storage/memory"
	"driftdb/internal/storage/mongo"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Close()

	conn, err := nats.Connect(cfg.Transport.NATSURL,
		nats.Name("driftdb-host-"+cfg.Transport.WorkerID),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		logger.Error("NATS connection failed", "url", cfg.Transport.NATSURL, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	transport, err := rpc.NewNATS(conn, cfg.Transport.SubjectPrefix, cfg.Transport.WorkerID, rpc.SideHost)
	if err != nil {
		logger.Error("transport setup failed", "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	factory := collectionFactory(cfg, logger)
	host := rpc.NewHost(cfg.Transport.WorkerID, transport, factory, logger.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- host.Run(ctx) }()
	logger.Info("driftdb host started",
		"worker_id", cfg.Transport.WorkerID,
		"nats_url", cfg.Transport.NATSURL,
		"storage", cfg.Storage.Backend,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error("host stopped", "error", err)
			os.Exit(1)
		}
	}
}

// collectionFactory builds collection backends with the configured storage
// collaborator and indexes. Collections not declared in the configuration
// get no collaborator and no secondary indexes.
func collectionFactory(cfg config.Config, logger *logging.Logger) rpc.CollectionFactory {
	declared := map[string]config.CollectionConfig{}
	for _, col := range cfg.Collections {
		declared[col.Name] = col
	}

	return func(name string) (*engine.Collection, error) {
		opts := []engine.Option{
			engine.WithLogger(logger.Logger),
			engine.WithActiveTransitions(),
		}
		col, ok := declared[name]
		if ok {
			opts = append(opts,
				engine.WithIndex(col.Indexes...),
				engine.WithOrderedIndex(col.OrderedIndexes...),
			)
		}

		collaborator, err := newCollaborator(cfg.Storage, name)
		if err != nil {
			return nil, err
		}
		if collaborator != nil {
			opts = append(opts, engine.WithCollaborator(collaborator))
		}
		return engine.New(name, opts...), nil
	}
}

func newCollaborator(cfg config.StorageConfig, collection string) (storage.Collaborator, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendFile:
		return file.New(filepath.Join(cfg.File.Dir, collection+".snap")), nil
	case config.BackendMongo:
		return mongo.New(cfg.Mongo.URI, cfg.Mongo.Database, collection), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
