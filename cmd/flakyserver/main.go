// Package main provides a deliberately unreliable upstream for exercising
// resilienced. Failure rate and added latency are tunable at startup and at
// runtime, making it easy to watch breakers trip, probe, and recover.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// failureRatePct and latencyMs are read on every request and swapped
// atomically by the /__config endpoint.
var (
	failureRatePct atomic.Int64
	latencyMs      atomic.Int64
)

func main() {
	port := flag.Int("port", 3001, "port to listen on")
	name := flag.String("name", "flaky", "service name")
	failRate := flag.Int("fail-rate", 0, "percentage of requests that return 500 (0-100)")
	latency := flag.Int("latency-ms", 0, "artificial latency added to every response")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		fmt.Sscanf(p, "%d", port)
	}

	failureRatePct.Store(int64(*failRate))
	latencyMs.Store(int64(*latency))

	// Runtime tuning: GET /__config?fail_rate=80&latency_ms=200
	http.HandleFunc("/__config", func(w http.ResponseWriter, r *http.Request) {
		if v := r.URL.Query().Get("fail_rate"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 100 {
				failureRatePct.Store(int64(n))
			}
		}
		if v := r.URL.Query().Get("latency_ms"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				latencyMs.Store(int64(n))
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"service":    *name,
			"fail_rate":  failureRatePct.Load(),
			"latency_ms": latencyMs.Load(),
		})
	})

	// /__status/{code} returns an arbitrary HTTP status code regardless of
	// the configured failure rate.
	http.HandleFunc("/__status/", func(w http.ResponseWriter, r *http.Request) {
		codeStr := r.URL.Path[len("/__status/"):]
		code, err := strconv.Atoi(codeStr)
		if err != nil || code < 100 || code > 599 {
			code = 500
		}
		writeJSON(w, code, map[string]interface{}{
			"service":        *name,
			"requested_code": code,
			"message":        http.StatusText(code),
		})
	})

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if d := latencyMs.Load(); d > 0 {
			time.Sleep(time.Duration(d) * time.Millisecond)
		}

		if rand.Int63n(100) < failureRatePct.Load() {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"service": *name,
				"error":   "injected failure",
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"service":   *name,
			"path":      r.URL.Path,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("%s listening on %s (fail_rate=%d%% latency=%dms)",
		*name, addr, failureRatePct.Load(), latencyMs.Load())
	log.Fatal(http.ListenAndServe(addr, nil))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
