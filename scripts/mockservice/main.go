// Mockservice is a test HTTP service used to exercise the backbone
// registry, health monitor and webhook router locally.
// It provides /health and /hooks/{anything} endpoints.
//
// Usage:
//
//	go run ./scripts/mockservice -port 8081 -name svcA
//	go run ./scripts/mockservice -port 8082 -latency 150ms -memory 80 -fail-rate 0.2
//
// Every received webhook is logged with its event id and answered with a
// JSON receipt carrying a fresh UUID.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Receipt is returned for every accepted webhook.
type Receipt struct {
	ReceiptID string `json:"receiptId"`
	Service   string `json:"service"`
	EventID   string `json:"eventId"`
	Attempt   string `json:"attempt"`
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	name := flag.String("name", "mock", "service name reported in receipts")
	latency := flag.Duration("latency", 0, "artificial delay added to every response")
	memoryMB := flag.Float64("memory", 12.5, "memory usage reported by /health")
	compliant := flag.Bool("compliant", true, "report the compliance flag on /health")
	unhealthy := flag.Bool("unhealthy", false, "report status degraded on /health")
	failRate := flag.Float64("fail-rate", 0, "fraction of webhooks answered with 503")
	flag.Parse()

	var received atomic.Int64

	mux := http.NewServeMux()

	// health endpoint polled by the backbone monitor
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(*latency)

		status := "ok"
		if *unhealthy {
			status = "degraded"
		}

		body := map[string]any{
			"status":         status,
			"complianceFlag": *compliant,
			"performance": map[string]any{
				"memoryMB": *memoryMB,
				"received": received.Load(),
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})

	mux.HandleFunc("/hooks/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(*latency)

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		eventID := r.Header.Get("X-Webhook-Event-Id")
		attempt := r.Header.Get("X-Webhook-Attempt")
		log.Printf("webhook: method=%s path=%s event=%s source=%s type=%s attempt=%s body=%s",
			r.Method, r.URL.Path, eventID,
			r.Header.Get("X-Webhook-Source"), r.Header.Get("X-Webhook-Event-Type"),
			attempt, strings.TrimSpace(string(payload)))

		if *failRate > 0 && rand.Float64() < *failRate {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		received.Add(1)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(Receipt{
			ReceiptID: uuid.NewString(),
			Service:   *name,
			EventID:   eventID,
			Attempt:   attempt,
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting mock service %s on %s", *name, addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
