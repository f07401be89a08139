package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"

	"github.com/listsync/listsync/server/auth"
	"github.com/listsync/listsync/server/cache"
	"github.com/listsync/listsync/server/config"
	"github.com/listsync/listsync/server/database"
	"github.com/listsync/listsync/server/handler"
	"github.com/listsync/listsync/server/router"
	"github.com/listsync/listsync/server/store"
)

const shutdownTimeoutSeconds = 5

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrationsPath := flag.String("migrations", "./migrations", "path to SQL migration files")
	flag.Parse()

	log.Println("Starting listsync sync server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pool, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.ClosePostgresPool(pool)

	if err := database.Migrate(pool, *migrationsPath); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer database.CloseRedisClient(redisClient)

	natsConn, err := database.NewNATSConnection(&cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer database.CloseNATSConnection(natsConn)

	blobs, err := store.NewSnapshotBlobStore(
		context.Background(),
		cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey,
		cfg.MinIO.UseSSL, cfg.MinIO.BucketSnapshots,
	)
	if err != nil {
		log.Fatalf("Failed to initialize snapshot blob store: %v", err)
	}

	jwtService, err := auth.NewJWTService(&cfg.JWT)
	if err != nil {
		log.Fatalf("Failed to initialize JWT service: %v", err)
	}

	ops := store.NewOperationRepository(pool)
	gens := store.NewGenerationRepository(pool)
	cacheSvc := cache.NewSyncCacheService(redisClient)
	syncHandler := handler.NewSyncHandler(ops, gens, cacheSvc, blobs, natsConn)

	h := server.Default(
		server.WithHostPorts(fmt.Sprintf(":%d", cfg.App.Port)),
	)

	router.Setup(h, cfg, &router.Dependencies{
		JWTService:  jwtService,
		SyncHandler: syncHandler,
	})

	go func() {
		if err := h.Run(); err != nil {
			log.Fatalf("Failed to run server: %v", err)
		}
	}()

	log.Printf("Sync server is running on port %d", cfg.App.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err := h.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	fmt.Println("Server exited")
}
