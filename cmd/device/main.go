package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/listsync/listsync/internal/actor"
	"github.com/listsync/listsync/internal/repository"
	"github.com/listsync/listsync/internal/storage"
	"github.com/listsync/listsync/internal/syncengine"
	"github.com/listsync/listsync/internal/wire"
	"github.com/listsync/listsync/server/config"
)

const undoWindow = 500 * time.Millisecond

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log.Println("Starting listsync device...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	st, err := storage.OpenBolt(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open local storage: %v", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientID, err := actor.Resolve(ctx, st)
	if err != nil {
		log.Fatalf("Failed to resolve device identity: %v", err)
	}

	repo := repository.New(st, undoWindow)
	if err := repo.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Dispose()

	onRemoteOps := func(ops []wire.Envelope) {
		if err := repo.ApplyRemoteOps(ctx, ops); err != nil {
			log.Printf("failed to apply remote ops: %v", err)
		}
	}

	transport := syncengine.NewHTTPTransport(cfg.Sync.BaseURL, nil)
	engine := syncengine.New(st, repo, transport, clientID, cfg.Sync.PollInterval(), onRemoteOps)

	if err := engine.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize sync engine: %v", err)
	}

	go engine.Run(ctx)

	log.Printf("Device %s is running against %s", clientID, cfg.Sync.BaseURL)

	<-ctx.Done()

	engine.Stop()
	log.Println("Device exited")
}
