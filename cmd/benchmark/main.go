// Benchmark tool: measures latency and QPS of service A's endpoints.
// It runs a bounded set of concurrent workers issuing GETs and aggregates
// the per-request latencies. With -check it also verifies that every /data
// response is ordered newest first.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MalikShoaibAhmadKhan/3-tier-app-AKS/internal/model"
)

func main() {
	var baseURL string
	var path string
	var concurrency int
	var requests int
	var check bool
	var timeout time.Duration
	flag.StringVar(&baseURL, "url", "http://localhost:3001", "service base URL")
	flag.StringVar(&path, "path", "/data", "endpoint to load: / | /data")
	flag.IntVar(&concurrency, "concurrency", 20, "number of concurrent workers")
	flag.IntVar(&requests, "requests", 500, "total number of requests")
	flag.BoolVar(&check, "check", false, "verify /data responses are ordered by created_at desc")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
	flag.Parse()

	client := &http.Client{Timeout: timeout}
	rep, err := runLoad(context.Background(), client, baseURL+path, requests, concurrency, check)
	if err != nil {
		log.Fatalf("benchmark failed: %v", err)
	}
	if rep.ok == 0 {
		log.Fatalf("no successful requests (errors=%d)", rep.errors)
	}

	fmt.Printf("Target: %s\n", baseURL+path)
	fmt.Printf("Requests: %d, Concurrency: %d, Errors: %d\n", rep.ok, concurrency, rep.errors)
	fmt.Printf("Avg latency: %s\n", rep.avg.Truncate(time.Microsecond))
	fmt.Printf("P95 latency: %s\n", rep.p95.Truncate(time.Microsecond))
	fmt.Printf("P99 latency: %s\n", rep.p99.Truncate(time.Microsecond))
	fmt.Printf("Total QPS: %.2f\n", rep.qps)
}

type report struct {
	ok, errors    int
	avg, p95, p99 time.Duration
	qps           float64
}

// runLoad issues requests GETs against url using at most concurrency
// workers. A request counts as an error on transport failure or a non-200
// status. An ordering violation aborts the run when check is set.
func runLoad(ctx context.Context, client *http.Client, url string, requests, concurrency int, check bool) (report, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	var (
		mu        sync.Mutex
		latencies []time.Duration
		errs      int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	startAll := time.Now()
	for i := 0; i < requests; i++ {
		g.Go(func() error {
			start := time.Now()
			body, err := fetch(gctx, client, url)
			dur := time.Since(start)

			if err == nil && check {
				if verr := checkOrder(body); verr != nil {
					return verr
				}
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs++
				return nil
			}
			latencies = append(latencies, dur)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report{}, err
	}
	totalDur := time.Since(startAll)

	rep := report{ok: len(latencies), errors: errs}
	if len(latencies) == 0 {
		return rep, nil
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	rep.avg = time.Duration(int64(sum) / int64(len(latencies)))
	rep.p95 = percentile(latencies, 0.95)
	rep.p99 = percentile(latencies, 0.99)
	rep.qps = float64(len(latencies)) / totalDur.Seconds()
	return rep, nil
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted))*p+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, nil
}

// checkOrder verifies a /data body is a JSON array ordered by created_at,
// newest first.
func checkOrder(body []byte) error {
	var recs []model.Record
	if err := json.Unmarshal(body, &recs); err != nil {
		return fmt.Errorf("decode records: %w", err)
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].CreatedAt.After(recs[i-1].CreatedAt) {
			return fmt.Errorf("records out of order at index %d: id %d (%s) after id %d (%s)",
				i, recs[i].ID, recs[i].CreatedAt, recs[i-1].ID, recs[i-1].CreatedAt)
		}
	}
	return nil
}
