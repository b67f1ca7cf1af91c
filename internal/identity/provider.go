// Package identity derives a best-effort stable pseudo-identifier for the
// environment the widget runs in. It is not a verified identity: the same
// machine should, with high probability, reproduce the same token across
// runs, and nothing more is guaranteed.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/primeautohub/chatwidget/internal/logger"
)

// Probe collects one environment signal for the composite fingerprint.
// An error from any probe aborts derivation entirely; the provider then
// falls back to a random token.
type Probe struct {
	Name    string
	Collect func() (string, error)
}

// Persistence is the slice of the local store the provider needs.
// *store.Store satisfies it.
type Persistence interface {
	VisitorID() string
	SetVisitorID(id string) error
}

// Provider derives and caches the visitor identity token.
//
// Lifecycle: generated once lazily, cached in memory for the process
// lifetime, persisted durably. A previously persisted value is returned
// unchanged, never re-derived.
type Provider struct {
	store  Persistence
	probes []Probe
	logger *logger.Logger

	mu     sync.Mutex
	cached string
}

// NewProvider creates a provider using the default probe set.
func NewProvider(store Persistence, logger *logger.Logger) *Provider {
	return &Provider{
		store:  store,
		probes: defaultProbes(),
		logger: logger.WithComponent("identity"),
	}
}

// NewProviderWithProbes creates a provider with an explicit probe list.
// Used by tests to make derivation deterministic.
func NewProviderWithProbes(store Persistence, probes []Probe, logger *logger.Logger) *Provider {
	return &Provider{
		store:  store,
		probes: probes,
		logger: logger.WithComponent("identity"),
	}
}

// GetOrCreate returns the visitor identity token, deriving and persisting
// it on first use. Derivation failures are recovered locally via a random
// fallback token and never surfaced to the caller.
func (p *Provider) GetOrCreate() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" {
		return p.cached
	}

	if stored := p.store.VisitorID(); stored != "" {
		p.cached = stored
		return stored
	}

	token, err := p.derive()
	if err != nil {
		p.logger.Warn("fingerprint derivation failed, using random fallback",
			slog.String("error", err.Error()))
		token = fallbackToken()
	}

	// Persisted exactly once per new identity; the fallback is just as
	// durable as a derived token from here on.
	if err := p.store.SetVisitorID(token); err != nil {
		p.logger.Warn("failed to persist visitor identity",
			slog.String("error", err.Error()))
	}

	p.cached = token
	p.logger.Debug("visitor identity ready", slog.String("visitor_id", token))
	return token
}

// Clear drops both the cached and the persisted identity. The next
// GetOrCreate derives a fresh token.
func (p *Provider) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cached = ""
	return p.store.SetVisitorID("")
}

// derive concatenates every probe's signal and hashes the composite into
// one fixed-length token.
func (p *Provider) derive() (string, error) {
	components := make([]string, 0, len(p.probes))
	for _, probe := range p.probes {
		value, err := probe.Collect()
		if err != nil {
			return "", fmt.Errorf("probe %s: %w", probe.Name, err)
		}
		components = append(components, value)
	}

	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(sum[:]), nil
}

// fallbackToken builds a random identity seeded by the current time plus a
// random component.
func fallbackToken() string {
	b := make([]byte, 6)
	rand.Read(b)
	return fmt.Sprintf("fp_%s_%d", hex.EncodeToString(b), time.Now().UnixMilli())
}
