package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/listsync/listsync/server/auth"
	"github.com/listsync/listsync/server/config"
	"github.com/listsync/listsync/server/database"
	"github.com/listsync/listsync/server/handler"
)

const (
	defaultPort            = ":8082"
	shutdownTimeoutSeconds = 5
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log.Println("Starting listsync wake server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	natsConn, err := database.NewNATSConnection(&cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer database.CloseNATSConnection(natsConn)

	jwtService, err := auth.NewJWTService(&cfg.JWT)
	if err != nil {
		log.Fatalf("Failed to initialize JWT service: %v", err)
	}

	hub, err := handler.NewWakeHub(natsConn)
	if err != nil {
		log.Fatalf("Failed to initialize wake hub: %v", err)
	}
	defer hub.Close()

	wsHandler := handler.NewWakeWebSocketHandler(hub, jwtService)

	mux := http.NewServeMux()
	mux.Handle("/sync/wake", wsHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"syncwake"}`))
	})

	srv := &http.Server{
		Addr:              defaultPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to run wake server: %v", err)
		}
	}()

	log.Printf("Wake server is running on %s", defaultPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down wake server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Wake server forced to shutdown: %v", err)
	}

	fmt.Println("Wake server exited")
}
