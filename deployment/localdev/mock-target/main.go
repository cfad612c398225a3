package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"
)

type faultRequest struct {
	Failure string `json:"failure"`
}

type component struct {
	mu            sync.Mutex
	faults        map[string]time.Time // failure -> cleared at (zero while active)
	baseLatency   time.Duration
	recoveryDelay time.Duration
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	latency := flag.Duration("latency", 10*time.Millisecond, "baseline response latency")
	recovery := flag.Duration("recovery-delay", 500*time.Millisecond, "time to recover after a fault is cleared")
	flag.Parse()

	c := &component{faults: make(map[string]time.Time), baseLatency: *latency, recoveryDelay: *recovery}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", c.serve)
	mux.HandleFunc("/chaos/faults", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req faultRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Failure == "" {
				http.Error(w, "failure is required", http.StatusBadRequest)
				return
			}
			c.inject(req.Failure)
			writeJSON(w, map[string]string{"status": "injected", "failure": req.Failure})
		case http.MethodDelete:
			failure := r.URL.Query().Get("failure")
			c.clear(failure)
			writeJSON(w, map[string]string{"status": "cleared", "failure": failure})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	log.Printf("mock target listening on %s", *addr)
	server := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("mock target exited: %v", err)
	}
}

func (c *component) inject(failure string) {
	c.mu.Lock()
	c.faults[failure] = time.Time{}
	c.mu.Unlock()
}

func (c *component) clear(failure string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for f, cleared := range c.faults {
		if (failure == "" || f == failure) && cleared.IsZero() {
			c.faults[f] = now
		}
	}
}

// active returns the failures still affecting the component, dropping those fully recovered.
func (c *component) active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.faults))
	for f, cleared := range c.faults {
		if !cleared.IsZero() && time.Since(cleared) >= c.recoveryDelay {
			delete(c.faults, f)
			continue
		}
		out = append(out, f)
	}
	return out
}

func (c *component) serve(w http.ResponseWriter, _ *http.Request) {
	delay := c.baseLatency
	status := http.StatusOK
	for _, f := range c.active() {
		switch f {
		case "latency":
			delay *= 4
		case "timeout":
			delay += 2 * time.Second
		case "crash":
			status = http.StatusServiceUnavailable
		default:
			if rand.Float64() < 0.5 {
				status = http.StatusInternalServerError
			}
		}
	}
	time.Sleep(delay)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(http.StatusText(status)))
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
