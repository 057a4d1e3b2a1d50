package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/awattacker/observer/api/handlers"
	"github.com/awattacker/observer/internal/automation"
	"github.com/awattacker/observer/internal/buffer"
	"github.com/awattacker/observer/internal/config"
	"github.com/awattacker/observer/internal/db"
	"github.com/awattacker/observer/internal/detector"
	"github.com/awattacker/observer/internal/logger"
	"github.com/awattacker/observer/internal/model"
	"github.com/awattacker/observer/internal/repository"
	"github.com/awattacker/observer/internal/transfer"
	"github.com/awattacker/observer/internal/ws"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "config.yaml"), "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	// Connect to the device
	driver := automation.NewADBDriver(automation.ADBConfig{
		Path:   cfg.Device.ADBPath,
		Serial: cfg.Device.Serial,
	})
	openCtx, cancelOpen := context.WithTimeout(context.Background(), 30*time.Second)
	err = driver.Open(openCtx)
	cancelOpen()
	if err != nil {
		log.Fatalf("Failed to connect to device: %v", err)
	}
	defer driver.Close()
	log.Printf("Using device %s", driver.Serial())

	// Initialize database
	database, err := db.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	fileRepo := repository.NewStoredFileRepository(database)

	var journal *logger.Journal
	if cfg.Journal.Path != "" {
		journal, err = logger.NewJournal(cfg.Journal.Path)
		if err != nil {
			log.Fatalf("Failed to create journal: %v", err)
		}
		defer journal.Close()
		if err := journal.WriteHeader(driver.Serial(), map[string]string{"ADB_PATH": cfg.Device.ADBPath}); err != nil {
			log.Fatalf("Failed to write journal header: %v", err)
		}
	}

	storage, err := transfer.NewStorage(cfg.Storage.StagingDir, cfg.Storage.StorageDir)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	coordinator := transfer.NewCoordinator(storage, &journaledCatalog{repo: fileRepo, journal: journal})
	defer coordinator.Close()

	hub := ws.NewHub()
	defer hub.Close()

	history := buffer.NewHistory[model.WindowEvent](cfg.Detector.HistorySize)
	publish := func(event model.WindowEvent) {
		history.Add(event)
		if err := hub.Broadcast(event); err != nil {
			log.Printf("Failed to broadcast window event: %v", err)
		}
		if journal != nil {
			if err := journal.RecordWindowEvent(event); err != nil {
				log.Printf("Failed to journal window event: %v", err)
			}
		}
	}

	// Each run gets a fresh detector so a restart never shares state with a
	// run that is still winding down.
	hub.AddTask(func(ctx context.Context) {
		d := detector.New(driver, publish, detector.Config{
			Interval:      cfg.Detector.Interval,
			ErrorInterval: cfg.Detector.ErrorInterval,
		})
		if err := d.Run(ctx); err != nil {
			log.Printf("Window change detector exited: %v", err)
		}
	})
	hub.AddTask(ws.Keepalive(hub, cfg.Keepalive.Interval))

	wsHandler := ws.NewHandler(hub, coordinator, ws.HandlerConfig{
		ReadLimit: cfg.Server.ReadLimit,
		Debug:     cfg.Server.Debug,
	})

	// Initialize Gin router
	r := gin.Default()
	r.Use(corsMiddleware())

	handlers.NewHealthHandler(hub, coordinator).RegisterRoutes(r)
	handlers.NewWebSocketHandler(wsHandler).RegisterRoutes(r)
	handlers.NewAutomationHandler(driver).RegisterRoutes(r)

	api := r.Group("/api")
	{
		handlers.NewFileHandler(fileRepo).RegisterRoutes(api)
		handlers.NewEventHandler(history).RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: r,
	}

	go func() {
		log.Printf("Starting server on %s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// journaledCatalog records stored files in the database and, when enabled,
// the event journal.
type journaledCatalog struct {
	repo    *repository.StoredFileRepository
	journal *logger.Journal
}

func (c *journaledCatalog) Create(ctx context.Context, file *model.StoredFile) error {
	if c.journal != nil {
		if err := c.journal.RecordFile(file); err != nil {
			log.Printf("Failed to journal stored file: %v", err)
		}
	}
	return c.repo.Create(ctx, file)
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
