package target

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
)

// HTTPConfig configures a remote component reached over HTTP.
type HTTPConfig struct {
	Name       string
	BaseURL    string
	InvokePath string
	FaultPath  string
	Timeout    time.Duration
	// Window is the number of recent calls the rolling error rate is computed over.
	Window int
	// Dependencies are the declared upstream components.
	Dependencies []string
}

// HTTPTarget exercises a remote component. Fault injection is delegated to the component's fault endpoint.
type HTTPTarget struct {
	name       string
	baseURL    string
	invokePath string
	faultPath  string
	httpClient *http.Client

	deps []string

	mu      sync.Mutex
	results []bool
	window  int
}

// NewHTTPTarget constructs an HTTP-backed target.
func NewHTTPTarget(cfg HTTPConfig) (*HTTPTarget, error) {
	if cfg.Name == "" {
		return nil, errors.New("http target requires a name")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http target %s: base URL not configured", cfg.Name)
	}
	if cfg.InvokePath == "" {
		cfg.InvokePath = "/healthz"
	}
	if cfg.FaultPath == "" {
		cfg.FaultPath = "/chaos/faults"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 20
	}
	return &HTTPTarget{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		invokePath: cfg.InvokePath,
		faultPath:  cfg.FaultPath,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		window:     cfg.Window,
		deps:       append([]string(nil), cfg.Dependencies...),
	}, nil
}

// Name implements Target.
func (t *HTTPTarget) Name() string { return t.name }

// Dependencies returns the declared upstream components.
func (t *HTTPTarget) Dependencies() []string { return append([]string(nil), t.deps...) }

// Invoke issues a GET against the invoke path and fails on non-2xx.
func (t *HTTPTarget) Invoke(ctx context.Context) error {
	_, err := t.Observe(ctx)
	if err != nil {
		return err
	}
	if !t.lastOK() {
		return fmt.Errorf("%s: invoke returned an error status", t.name)
	}
	return nil
}

// Observe times one request: headers received is the response time, body fully read is the render time.
func (t *HTTPTarget) Observe(ctx context.Context) (Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.resolvePath(t.invokePath), nil)
	if err != nil {
		return Observation{}, err
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		if isConnectError(err) {
			return Observation{}, fmt.Errorf("%s: %w: %v", t.name, ErrUnreachable, err)
		}
		t.record(false)
		return Observation{ResponseTime: time.Since(start), ErrorRate: t.errorRate()}, nil
	}
	responseTime := time.Since(start)
	_, copyErr := io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	renderTime := time.Since(start)

	t.record(copyErr == nil && resp.StatusCode >= 200 && resp.StatusCode < 300)
	return Observation{
		ResponseTime: responseTime,
		RenderTime:   renderTime,
		ErrorRate:    t.errorRate(),
	}, nil
}

// InjectFault asks the component to start failing in the given mode.
func (t *HTTPTarget) InjectFault(ctx context.Context, failure string) error {
	payload := map[string]interface{}{"failure": failure}
	if err := t.sendJSON(ctx, http.MethodPost, t.resolvePath(t.faultPath), payload); err != nil {
		return fmt.Errorf("%s inject %s: %w", t.name, failure, err)
	}
	return nil
}

// ClearFault asks the component to stop failing in the given mode.
func (t *HTTPTarget) ClearFault(ctx context.Context, failure string) error {
	endpoint := t.resolvePath(t.faultPath) + "?failure=" + url.QueryEscape(failure)
	if err := t.sendJSON(ctx, http.MethodDelete, endpoint, nil); err != nil {
		return fmt.Errorf("%s clear %s: %w", t.name, failure, err)
	}
	return nil
}

func (t *HTTPTarget) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return t.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (t *HTTPTarget) sendJSON(ctx context.Context, method, endpoint string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if isConnectError(err) {
			return fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("component returned %s", resp.Status)
	}
	return nil
}

func (t *HTTPTarget) record(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = append(t.results, ok)
	if len(t.results) > t.window {
		t.results = t.results[len(t.results)-t.window:]
	}
}

func (t *HTTPTarget) lastOK() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.results) > 0 && t.results[len(t.results)-1]
}

func (t *HTTPTarget) errorRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.results) == 0 {
		return 0
	}
	failed := 0
	for _, ok := range t.results {
		if !ok {
			failed++
		}
	}
	return float64(failed) / float64(len(t.results))
}

func isConnectError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
