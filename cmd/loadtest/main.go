// Command loadtest drives synthetic traffic against the related-entries API
// and reports throughput, latency percentiles, and status-code counts.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -concurrency 20 -duration 60s
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// defaultEntryIDs rotate through the request stream when -ids is not given.
// They are well-known entry identifiers present in most catalog datasets;
// pass -ids to target entries that actually exist in yours.
var defaultEntryIDs = []string{
	"nextcloud",
	"gitea",
	"jellyfin",
	"immich",
	"vaultwarden",
	"home-assistant",
	"pi-hole",
	"syncthing",
	"paperless-ngx",
	"grafana",
	"uptime-kuma",
	"n8n",
	"bookstack",
	"freshrss",
	"navidrome",
}

type report struct {
	requests  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	statuses  map[int]int64
}

func newReport() *report {
	return &report{
		latencies: make([]time.Duration, 0, 100000),
		statuses:  make(map[int]int64),
	}
}

func (r *report) record(latency time.Duration, status int, err error) {
	r.requests.Add(1)
	if err != nil {
		r.failed.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		r.succeeded.Add(1)
	} else {
		r.failed.Add(1)
	}
	r.mu.Lock()
	r.latencies = append(r.latencies, latency)
	r.statuses[status]++
	r.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the relator service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	ids := flag.String("ids", "", "comma-separated entry ids to request (defaults to a built-in list)")
	flag.Parse()

	entryIDs := defaultEntryIDs
	if *ids != "" {
		entryIDs = strings.Split(*ids, ",")
	}

	fmt.Println("=== Related API Load Test ===")
	fmt.Printf("Target:      %s\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Entry IDs:   %d unique\n", len(entryIDs))
	fmt.Println()

	rep := drive(*baseURL, entryIDs, *concurrency, *duration)
	printReport(rep, *duration)
}

// drive runs workers that walk the entry id list round-robin until the
// duration elapses. A shared counter spreads ids across workers so every id
// sees traffic even at low concurrency.
func drive(baseURL string, entryIDs []string, concurrency int, duration time.Duration) *report {
	rep := newReport()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var next atomic.Int64
	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				id := entryIDs[int(next.Add(1))%len(entryIDs)]
				target := fmt.Sprintf("%s/api/v1/apps/%s/related", baseURL, id)

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					rep.record(0, 0, err)
					continue
				}

				start := time.Now()
				resp, err := client.Do(req)
				latency := time.Since(start)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					rep.record(latency, 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				rep.record(latency, resp.StatusCode, nil)
			}
		}()
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return rep
}

func printReport(rep *report, duration time.Duration) {
	total := rep.requests.Load()
	succeeded := rep.succeeded.Load()
	failed := rep.failed.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", succeeded)
	fmt.Printf("Errors:          %d\n", failed)
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	rep.mu.Lock()
	latencies := make([]time.Duration, len(rep.latencies))
	copy(latencies, rep.latencies)
	statuses := make(map[int]int64, len(rep.statuses))
	for code, count := range rep.statuses {
		statuses[code] = count
	}
	rep.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", sum/time.Duration(len(latencies)))
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(statuses))
	for code := range statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, statuses[code])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the relator running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
