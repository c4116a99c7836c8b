package connectivity

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"
)

// ProberOption configures optional behaviour for the Prober.
type ProberOption func(*Prober)

// WithInterval overrides how often the remote is probed.
func WithInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithHTTPClient overrides the HTTP client used for probes.
func WithHTTPClient(c *http.Client) ProberOption {
	return func(p *Prober) {
		p.client = c
	}
}

// WithLogger overrides the logger used to report transitions.
func WithLogger(logger *log.Logger) ProberOption {
	return func(p *Prober) {
		p.logger = logger
	}
}

// WithCheck replaces the HTTP health probe with fn. name identifies the
// remote in log lines.
func WithCheck(name string, fn func(ctx context.Context) error) ProberOption {
	return func(p *Prober) {
		p.url = name
		p.checkFn = fn
	}
}

// Prober polls the remote health endpoint and drives a Switch.
type Prober struct {
	client   *http.Client
	url      string
	checkFn  func(ctx context.Context) error
	interval time.Duration
	target   *Switch
	logger   *log.Logger
}

// NewProber constructs a Prober for baseURL + "/healthz".
func NewProber(baseURL string, target *Switch, opts ...ProberOption) *Prober {
	p := &Prober{
		client:   &http.Client{Timeout: 5 * time.Second},
		url:      strings.TrimRight(baseURL, "/") + "/healthz",
		interval: 10 * time.Second,
		target:   target,
		logger:   log.New(log.Writer(), "[connectivity] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe performs one health check and updates the Switch.
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	if online != p.target.Online() {
		p.logger.Printf("remote %s reachable=%t", p.url, online)
	}
	p.target.SetOnline(online)
	return online
}

// Run probes until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Probe(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Prober) check(ctx context.Context) bool {
	if p.checkFn != nil {
		return p.checkFn(ctx) == nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}
