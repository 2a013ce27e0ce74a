// loadgen posts synthetic page-view events at the ingestion endpoint for
// local and staging testing. Zero-dependency on purpose so it can be run
// with `go run` from anywhere.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type event struct {
	SiteID    string `json:"site_id"`
	EventType string `json:"event_type"`
	Path      string `json:"path"`
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

var paths = []string{
	"/", "/pricing", "/docs", "/docs/getting-started", "/blog",
	"/blog/launch", "/about", "/contact", "/signup", "/login",
}

func main() {
	target := flag.String("target", "http://localhost:8080/api/event", "ingestion endpoint URL")
	rate := flag.Int("rate", 10, "events per second")
	concurrency := flag.Int("concurrency", 4, "number of sender goroutines")
	sites := flag.Int("sites", 3, "number of distinct site ids")
	users := flag.Int("users", 50, "number of distinct user ids")
	duration := flag.Duration("duration", 0, "how long to run (0 = until interrupted)")
	flag.Parse()

	if *rate <= 0 || *concurrency <= 0 || *sites <= 0 || *users <= 0 {
		fmt.Fprintln(os.Stderr, "rate, concurrency, sites, and users must be positive")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	interval := time.Second / time.Duration(*rate)

	var sent, accepted, rejected, failed int64

	stop := make(chan struct{})
	ticks := make(chan struct{}, *concurrency)

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + rand.Int63()))
			for range ticks {
				ev := event{
					SiteID:    fmt.Sprintf("site-%03d", rng.Intn(*sites)+1),
					EventType: "page_view",
					Path:      paths[rng.Intn(len(paths))],
					UserID:    fmt.Sprintf("user-%04d", rng.Intn(*users)+1),
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				}
				body, _ := json.Marshal(ev)

				atomic.AddInt64(&sent, 1)
				resp, err := client.Post(*target, "application/json", bytes.NewReader(body))
				if err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}
				resp.Body.Close()
				switch {
				case resp.StatusCode == http.StatusOK:
					atomic.AddInt64(&accepted, 1)
				case resp.StatusCode >= 400 && resp.StatusCode < 500:
					atomic.AddInt64(&rejected, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
			}
		}()
	}

	// Pacer goroutine drives the senders at the requested rate.
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				close(ticks)
				return
			case <-ticker.C:
				select {
				case ticks <- struct{}{}:
				default: // senders saturated, drop the tick
				}
			}
		}
	}()

	// Progress report every 5s.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				log.Printf("sent=%d accepted=%d rejected=%d failed=%d",
					atomic.LoadInt64(&sent), atomic.LoadInt64(&accepted),
					atomic.LoadInt64(&rejected), atomic.LoadInt64(&failed))
			}
		}
	}()

	log.Printf("loadgen: posting to %s at %d events/s (%d senders)", *target, *rate, *concurrency)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if *duration > 0 {
		select {
		case <-sig:
		case <-time.After(*duration):
		}
	} else {
		<-sig
	}

	close(stop)
	wg.Wait()

	log.Printf("loadgen: done (sent=%d accepted=%d rejected=%d failed=%d)",
		atomic.LoadInt64(&sent), atomic.LoadInt64(&accepted),
		atomic.LoadInt64(&rejected), atomic.LoadInt64(&failed))
}
