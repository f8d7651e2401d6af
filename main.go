package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"pos_inventory/config"
	"pos_inventory/database"
	"pos_inventory/events"
	"pos_inventory/handlers"
	"pos_inventory/metrics"
	"pos_inventory/services"
)

func main() {
	configPath := flag.String("config", os.Getenv("POS_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	if cfg.Database.Seed {
		if err := database.Seed(context.Background(), db, cfg.Checkout.WalkInEmail); err != nil {
			log.Fatalf("Failed to seed database: %v", err)
		}
	}

	publisher := events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	m := metrics.New()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.Services{
		Catalog:   services.NewCatalogService(db),
		Discounts: services.NewDiscountService(db),
		Checkout: services.NewCheckoutService(db, services.CheckoutOptions{
			AllowNegativeStock: cfg.Checkout.AllowNegativeStock,
			WalkInEmail:        cfg.Checkout.WalkInEmail,
		}, publisher, m),
		Orders: services.NewOrderService(db),
	}, m)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("HTTP server Shutdown: %v", err)
		}
		close(idleConnsClosed)
	}()

	log.Printf("starting pos-inventory on %s (db=%s)", cfg.Server.Addr, cfg.Database.Driver)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}

	<-idleConnsClosed
	log.Println("server stopped")
}
