// Webhookload is a concurrent load generator for the backbone webhook
// ingress. It measures ingest throughput and latency percentiles, then
// reports the hub's own counters once the queue has drained.
//
// Usage:
//
//	go run ./scripts/webhookload -url http://localhost:3000 -concurrency 10 -events 1000
//	go run ./scripts/webhookload -sources render,github -types deploy_failed,push -out summary.json
//
// Events cycle through every source/type combination so both routed and
// unrouted traffic can be produced from one run.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type ingestResponse struct {
	Success       bool   `json:"success"`
	EventID       string `json:"eventId"`
	RoutesMatched int    `json:"routesMatched"`
}

// SourceStats tracks ingest results for one event source.
type SourceStats struct {
	Sent      int32           `json:"sent"`
	Accepted  int32           `json:"accepted"`
	Rejected  int32           `json:"rejected"`
	Unrouted  int32           `json:"unrouted"`
	Latencies []time.Duration `json:"-"`
}

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:3000", "Backbone base URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		events      = flag.Int("events", 100, "Total number of events to send")
		sources     = flag.String("sources", "render", "Comma separated event sources")
		types       = flag.String("types", "deploy_failed", "Comma separated event types")
		timeoutSec  = flag.Int("timeout", 10, "Per-request timeout in seconds")
		drainWait   = flag.Duration("drain", 5*time.Second, "How long to wait for the queue to drain before reading stats")
	)

	outJSON := flag.String("out", "", "Write JSON summary to this file (optional)")
	verbose := flag.Bool("v", false, "Verbose per-request logging to stdout")
	flag.Parse()

	combos := combinations(strings.Split(*sources, ","), strings.Split(*types, ","))
	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}
	ingestURL := strings.TrimRight(*baseURL, "/") + "/api/webhooks"

	jobs := make(chan int)
	var wg sync.WaitGroup

	var total, accepted, failure int32

	stats := make(map[string]*SourceStats)
	var statsMu sync.Mutex

	statusCodes := make(map[int]int32)
	var statusMu sync.Mutex

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				atomic.AddInt32(&total, 1)
				combo := combos[idx%len(combos)]

				body, _ := json.Marshal(map[string]any{
					"source":    combo[0],
					"eventType": combo[1],
					"payload":   map[string]any{"seq": idx, "sentAt": time.Now().Format(time.RFC3339Nano)},
				})

				start := time.Now()
				resp, err := client.Post(ingestURL, "application/json", bytes.NewReader(body))
				dur := time.Since(start)

				statsMu.Lock()
				st, ok := stats[combo[0]]
				if !ok {
					st = &SourceStats{}
					stats[combo[0]] = st
				}
				st.Sent++
				st.Latencies = append(st.Latencies, dur)
				statsMu.Unlock()

				if err != nil {
					atomic.AddInt32(&failure, 1)
					if *verbose {
						fmt.Printf("[%d] idx=%d error=%v\n", workerID, idx, err)
					}
					continue
				}

				statusMu.Lock()
				statusCodes[resp.StatusCode]++
				statusMu.Unlock()

				var ingest ingestResponse
				_ = json.NewDecoder(resp.Body).Decode(&ingest)
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				statsMu.Lock()
				if resp.StatusCode == http.StatusAccepted {
					atomic.AddInt32(&accepted, 1)
					st.Accepted++
					if ingest.RoutesMatched == 0 {
						st.Unrouted++
					}
				} else {
					atomic.AddInt32(&failure, 1)
					st.Rejected++
				}
				statsMu.Unlock()

				if *verbose {
					fmt.Printf("[%d] idx=%d source=%s type=%s status=%d routes=%d dur=%v\n",
						workerID, idx, combo[0], combo[1], resp.StatusCode, ingest.RoutesMatched, dur)
				}
			}
		}(i)
	}

	go func() {
		for i := 0; i < *events; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	totalDuration := time.Since(testStart)
	throughput := float64(total) / totalDuration.Seconds()

	fmt.Println("--- Webhook Load Summary ---")
	fmt.Printf("Target: %s\n", ingestURL)
	fmt.Printf("Events: %d  Concurrency: %d\n", *events, *concurrency)
	fmt.Printf("Total sent: %d  Accepted: %d  Failure: %d\n", total, accepted, failure)
	fmt.Printf("Duration: %v  Throughput: %.2f events/s\n", totalDuration, throughput)

	fmt.Println("\nStatus codes:")
	var scKeys []int
	for k := range statusCodes {
		scKeys = append(scKeys, k)
	}
	sort.Ints(scKeys)
	for _, k := range scKeys {
		fmt.Printf("  %d -> %d\n", k, statusCodes[k])
	}

	fmt.Println("\nPer source:")
	var sourceKeys []string
	for k := range stats {
		sourceKeys = append(sourceKeys, k)
	}
	sort.Strings(sourceKeys)
	for _, k := range sourceKeys {
		st := stats[k]
		p := percentiles(st.Latencies)
		fmt.Printf("  %s -> sent=%d accepted=%d rejected=%d unrouted=%d\n", k, st.Sent, st.Accepted, st.Rejected, st.Unrouted)
		fmt.Printf("    latencies: p50=%v p90=%v p95=%v p99=%v\n", p[0], p[1], p[2], p[3])
	}

	fmt.Printf("\nWaiting %v for the queue to drain...\n", *drainWait)
	time.Sleep(*drainWait)

	hubStats, err := fetchStats(client, strings.TrimRight(*baseURL, "/")+"/api/webhooks/stats")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read hub stats: %v\n", err)
	} else {
		fmt.Println("\nHub stats:")
		keys := make([]string, 0, len(hubStats))
		for k := range hubStats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s = %v\n", k, hubStats[k])
		}
	}

	if *outJSON != "" {
		report := map[string]interface{}{
			"target":         ingestURL,
			"events":         *events,
			"concurrency":    *concurrency,
			"total_sent":     total,
			"accepted":       accepted,
			"failure":        failure,
			"duration_ms":    totalDuration.Milliseconds(),
			"throughput_eps": throughput,
			"sources":        stats,
			"hub":            hubStats,
		}

		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if failure > 0 {
		os.Exit(2)
	}
}

func combinations(sources, types []string) [][2]string {
	var out [][2]string
	for _, s := range sources {
		for _, t := range types {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			out = append(out, [2]string{s, strings.TrimSpace(t)})
		}
	}
	if len(out) == 0 {
		out = append(out, [2]string{"render", "deploy_failed"})
	}
	return out
}

// percentiles returns p50, p90, p95 and p99.
func percentiles(latencies []time.Duration) [4]time.Duration {
	var out [4]time.Duration
	if len(latencies) == 0 {
		return out
	}

	tmp := make([]time.Duration, len(latencies))
	copy(tmp, latencies)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	for i, pct := range []float64{0.50, 0.90, 0.95, 0.99} {
		out[i] = tmp[int(float64(len(tmp)-1)*pct)]
	}
	return out
}

func fetchStats(client *http.Client, url string) (map[string]any, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Stats map[string]any `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Stats, nil
}
