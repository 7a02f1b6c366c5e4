// Package health exposes Kubernetes-style liveness and readiness endpoints
// backed by periodically polled probes.
//
// A probe must fail three consecutive polls before its endpoint starts
// reporting failure, and recovers on the first successful poll. That keeps a
// single slow database ping from bouncing the pod.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Probe checks one dependency. A nil return means healthy.
type Probe func(ctx context.Context) error

// tripAfter is the number of consecutive probe failures before the probe is
// reported as failing.
const tripAfter = 3

type probe struct {
	name    string
	timeout time.Duration
	fn      Probe

	fails   int
	failing bool
	msg     string
}

// Service polls registered probes and serves the /livez and /readyz
// endpoints. Register all probes before calling Start.
type Service struct {
	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe
	ready     bool
	stop      context.CancelFunc
}

func New() *Service {
	return &Service{}
}

// Liveness registers a probe that gates the /livez endpoint. Use it for
// process-level signals such as goroutine leaks.
func (s *Service) Liveness(name string, timeout time.Duration, fn Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveness = append(s.liveness, &probe{name: name, timeout: timeout, fn: fn})
}

// Readiness registers a probe that gates the /readyz endpoint. Use it for
// dependencies the service cannot serve without.
func (s *Service) Readiness(name string, timeout time.Duration, fn Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readiness = append(s.readiness, &probe{name: name, timeout: timeout, fn: fn})
}

// Start launches the poller. Probes registered after Start are not picked up.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.stop = cancel
	s.mu.Unlock()

	go s.poll(ctx, interval)
}

// Stop halts the poller. Probe states freeze at their last observed values.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// SetReady flips the manual readiness gate. The service reports ready only
// when the gate is open and every readiness probe passes. Flip it to false
// at the start of graceful shutdown so load balancers drain the instance.
func (s *Service) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *Service) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) {
	s.mu.Lock()
	probes := make([]*probe, 0, len(s.liveness)+len(s.readiness))
	probes = append(probes, s.liveness...)
	probes = append(probes, s.readiness...)
	s.mu.Unlock()

	for _, p := range probes {
		pctx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.fn(pctx)
		cancel()

		s.mu.Lock()
		if err != nil {
			p.fails++
			p.msg = err.Error()
			if p.fails >= tripAfter {
				p.failing = true
			}
		} else {
			p.fails = 0
			p.failing = false
			p.msg = ""
		}
		s.mu.Unlock()
	}
}

// LiveEndpoint serves /livez: 200 while every liveness probe passes, 503
// with the failing probe names otherwise.
func (s *Service) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	failing := collect(s.liveness)
	s.mu.Unlock()

	respond(w, failing)
}

// ReadyEndpoint serves /readyz: 200 while the manual gate is open and every
// readiness probe passes.
func (s *Service) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	failing := collect(s.readiness)
	if !s.ready {
		failing["service"] = "not accepting traffic"
	}
	s.mu.Unlock()

	respond(w, failing)
}

// collect must be called with s.mu held.
func collect(probes []*probe) map[string]string {
	failing := make(map[string]string)
	for _, p := range probes {
		if !p.failing {
			continue
		}
		msg := p.msg
		if msg == "" {
			msg = "probe failing"
		}
		failing[p.name] = msg
	}
	return failing
}

type statusBody struct {
	Status  string            `json:"status"`
	Failing map[string]string `json:"failing,omitempty"`
}

func respond(w http.ResponseWriter, failing map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	body := statusBody{Status: "ok"}
	code := http.StatusOK
	if len(failing) > 0 {
		body = statusBody{Status: "unavailable", Failing: failing}
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
