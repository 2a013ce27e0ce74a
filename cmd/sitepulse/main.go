package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sitepulse-io/sitepulse/internal/api"
	"github.com/sitepulse-io/sitepulse/internal/config"
	"github.com/sitepulse-io/sitepulse/internal/metrics"
	redisqueue "github.com/sitepulse-io/sitepulse/internal/queue/redis"
	"github.com/sitepulse-io/sitepulse/internal/report"
	"github.com/sitepulse-io/sitepulse/internal/store/postgres"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`sitepulse - page-view analytics ingestion and reporting API

Usage:
  sitepulse <command>

Commands:
  serve      Start the ingestion and reporting HTTP server
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for the event queue (required)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  QUEUE_NAME                Queue key prefix (default: "analytics-events")
  QUEUE_MAX_ATTEMPTS        Deliveries before a job is parked (default: "3")
  QUEUE_BACKOFF_BASE        Base retry delay, doubled per attempt (default: "2s")
  QUEUE_VISIBILITY_TIMEOUT  Unacked job redelivery deadline (default: "30s")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")`)
}

func runServe() int {
	if err := godotenv.Load(); err == nil {
		log.Println("sitepulse: loaded environment from .env")
	}

	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	// Connect to Redis (queue medium)
	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		fmt.Fprintf(os.Stderr, "failed to connect to redis: %v\n", err)
		return exitRuntimeError
	}
	cancelPing()

	store := postgres.New(db, cfg.DBOpTimeout)
	queue := redisqueue.New(redisClient, redisqueue.Config{
		Name:              cfg.QueueName,
		MaxAttempts:       cfg.QueueMaxAttempts,
		BackoffBase:       cfg.QueueBackoffBase,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	})
	engine := report.NewEngine(store)

	// Initialize metrics sink (optional)
	var (
		sink          metrics.Sink = metrics.NewNoopSink()
		metricsServer *http.Server
	)

	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("sitepulse: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("sitepulse: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("sitepulse: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("sitepulse: METRICS_ENABLED not set; metrics disabled")
	}

	engine = engine.WithMetrics(sink)
	apiHandler := api.NewHandler(queue, engine).
		WithHealthCheckers(store, queue).
		WithMetrics(sink)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("sitepulse: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("sitepulse: http server error: %v", err)
		}
	}()

	log.Printf("sitepulse: started (queue=%s, http=%s)", cfg.QueueName, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("sitepulse: received signal %v, shutting down", received)

	// Phase 1: Stop HTTP server with graceful shutdown (no new admissions)
	log.Println("sitepulse: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("sitepulse: http server shutdown error: %v", err)
	}
	log.Println("sitepulse: http server stopped")

	// Phase 2: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("sitepulse: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("sitepulse: metrics server shutdown error: %v", err)
		}
		log.Println("sitepulse: metrics server stopped")
	}

	log.Println("sitepulse: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("sitepulse version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
