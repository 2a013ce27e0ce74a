package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sitepulse-io/sitepulse/internal/circuitbreaker"
	"github.com/sitepulse-io/sitepulse/internal/config"
	"github.com/sitepulse-io/sitepulse/internal/leaderlock"
	"github.com/sitepulse-io/sitepulse/internal/metrics"
	redisqueue "github.com/sitepulse-io/sitepulse/internal/queue/redis"
	"github.com/sitepulse-io/sitepulse/internal/reaper"
	"github.com/sitepulse-io/sitepulse/internal/store/postgres"
	"github.com/sitepulse-io/sitepulse/internal/worker"

	_ "github.com/lib/pq"
)

const queueDepthInterval = 15 * time.Second

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("worker: loaded environment from .env")
	}

	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("worker: failed to open database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		log.Fatalf("worker: failed to connect to database: %v", err)
	}

	// Connect to Redis
	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatalf("worker: failed to connect to redis: %v", err)
	}
	cancelPing()

	store := postgres.New(db, cfg.DBOpTimeout)
	queue := redisqueue.New(redisClient, redisqueue.Config{
		Name:              cfg.QueueName,
		MaxAttempts:       cfg.QueueMaxAttempts,
		BackoffBase:       cfg.QueueBackoffBase,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
	})

	// Metrics sink (optional)
	var (
		sink          metrics.Sink = metrics.NewNoopSink()
		metricsServer *http.Server
	)

	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("worker: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("worker: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("worker: metrics server error: %v", err)
			}
		}()
	}

	pool := worker.New(worker.Config{
		Workers:      cfg.WorkerCount,
		PollInterval: cfg.WorkerPollInterval,
		DrainTimeout: cfg.WorkerDrainTimeout,
	}, queue, store).WithMetrics(sink)

	if cfg.BreakerThreshold > 0 {
		breaker := circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown)
		pool = pool.WithBreaker(breaker)
		log.Printf("worker: circuit breaker enabled (threshold=%d, cooldown=%v)",
			cfg.BreakerThreshold, cfg.BreakerCooldown)
	}

	poolCtx, cancelPool := context.WithCancel(context.Background())
	var poolWg sync.WaitGroup
	poolWg.Add(1)
	go func() {
		defer poolWg.Done()
		pool.Run(poolCtx)
	}()

	// Queue depth gauge poller
	depthCtx, cancelDepth := context.WithCancel(context.Background())
	var depthWg sync.WaitGroup
	depthWg.Add(1)
	go func() {
		defer depthWg.Done()
		ticker := time.NewTicker(queueDepthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-depthCtx.Done():
				return
			case <-ticker.C:
				stats, err := queue.Stats(depthCtx)
				if err != nil {
					log.Printf("worker: queue stats error: %v", err)
					continue
				}
				sink.QueueDepth(metrics.StateWaiting, stats.Waiting)
				sink.QueueDepth(metrics.StateDelayed, stats.Delayed)
				sink.QueueDepth(metrics.StateActive, stats.Active)
				sink.QueueDepth(metrics.StateFailed, stats.Failed)
			}
		}
	}()

	// Reaper runs on the elected leader only so a fleet of workers does
	// not sweep the active set concurrently.
	electCtx, cancelElect := context.WithCancel(context.Background())
	var electWg sync.WaitGroup

	if cfg.ReaperEnabled {
		sweeper := reaper.New(reaper.Config{
			Interval:  cfg.ReaperInterval,
			BatchSize: cfg.ReaperBatchSize,
		}, queue).WithMetrics(sink)

		var reaperWg sync.WaitGroup
		elector := leaderlock.New(
			redisClient,
			cfg.QueueName+":reaper-leader",
			cfg.LeaderLockTTL,
			cfg.LeaderRetryInterval,
			func(ctx context.Context) {
				reaperWg.Add(1)
				defer reaperWg.Done()
				sweeper.Run(ctx)
			},
			reaperWg.Wait,
		).WithMetrics(sink)

		electWg.Add(1)
		go func() {
			defer electWg.Done()
			elector.Run(electCtx)
		}()
	} else {
		log.Println("worker: REAPER_ENABLED not set; stalled-job sweeps disabled")
	}

	log.Printf("worker: started (queue=%s, workers=%d)", cfg.QueueName, cfg.WorkerCount)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("worker: received signal %v, shutting down", received)

	// Phase 1: stop dequeuing and drain in-flight jobs
	log.Println("worker: stopping pool...")
	cancelPool()
	poolWg.Wait()
	log.Println("worker: pool stopped")

	// Phase 2: step down from leadership and stop the reaper
	log.Println("worker: releasing leadership...")
	cancelElect()
	electWg.Wait()
	log.Println("worker: leadership released")

	// Phase 3: stop the depth poller
	cancelDepth()
	depthWg.Wait()

	// Phase 4: stop the metrics server
	if metricsServer != nil {
		log.Println("worker: stopping metrics server...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancelShutdown()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("worker: metrics server shutdown error: %v", err)
		}
		log.Println("worker: metrics server stopped")
	}

	log.Println("worker: stopped")
}
