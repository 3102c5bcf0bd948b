package quota

import (
	"fmt"
	"sync"

	"github.com/kapu/artist-radar/internal/domain"
	"github.com/kapu/artist-radar/pkg/errors"
	"go.uber.org/zap"
)

// Credential is one quota-bearing secret. Label is safe to log.
type Credential struct {
	Label  string
	Secret string
}

type slot struct {
	credential Credential
	exhausted  bool
	requests   int64
}

// Lease is the credential chosen for one upstream attempt.
type Lease struct {
	Index      int
	Credential Credential
}

// Pool hands out credentials round-robin and never selects an exhausted one.
// Exhaustion is sticky until Reset.
type Pool struct {
	provider string
	slots    []*slot
	current  int
	mu       sync.Mutex
	logger   *zap.Logger
}

func NewPool(provider string, credentials []Credential, logger *zap.Logger) (*Pool, error) {
	if len(credentials) == 0 {
		return nil, fmt.Errorf("%s credential pool requires at least one credential", provider)
	}

	slots := make([]*slot, 0, len(credentials))
	for i, cred := range credentials {
		if cred.Secret == "" {
			return nil, fmt.Errorf("%s credential %d is empty", provider, i+1)
		}
		if cred.Label == "" {
			cred.Label = fmt.Sprintf("%s-%d", provider, i+1)
		}
		slots = append(slots, &slot{credential: cred})
	}

	logger.Info("Credential pool initialized",
		zap.String("provider", provider),
		zap.Int("credentials", len(slots)),
	)

	return &Pool{
		provider: provider,
		slots:    slots,
		logger:   logger,
	}, nil
}

// NewKeyPool wraps plain API keys.
func NewKeyPool(provider string, keys []string, logger *zap.Logger) (*Pool, error) {
	creds := make([]Credential, 0, len(keys))
	for i, k := range keys {
		creds = append(creds, Credential{Label: fmt.Sprintf("%s-key-%d", provider, i+1), Secret: k})
	}
	return NewPool(provider, creds, logger)
}

func (p *Pool) Provider() string {
	return p.provider
}

func (p *Pool) Size() int {
	return len(p.slots)
}

// Acquire returns the current slot, advancing past exhausted ones.
func (p *Pool) Acquire() (Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.slots); i++ {
		idx := (p.current + i) % len(p.slots)
		if !p.slots[idx].exhausted {
			p.current = idx
			return Lease{Index: idx, Credential: p.slots[idx].credential}, nil
		}
	}
	return Lease{}, errors.NewQuotaExhaustedError(p.provider, len(p.slots))
}

// MarkExhausted flags a slot after a quota rejection and moves the pointer on.
func (p *Pool) MarkExhausted(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.slots) {
		return
	}
	s := p.slots[index]
	if !s.exhausted {
		s.exhausted = true
		p.logger.Warn("Credential exhausted, rotating",
			zap.String("provider", p.provider),
			zap.String("credential", s.credential.Label),
			zap.Int64("requests", s.requests),
			zap.Int("available", p.availableLocked()),
		)
	}
	if p.current == index {
		p.current = (index + 1) % len(p.slots)
	}
}

// Rotate moves the pointer past a slot after a transient failure without flagging it.
func (p *Pool) Rotate(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == index {
		p.current = (index + 1) % len(p.slots)
	}
}

func (p *Pool) RecordSuccess(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index >= 0 && index < len(p.slots) {
		p.slots[index].requests++
	}
}

func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availableLocked()
}

func (p *Pool) availableLocked() int {
	n := 0
	for _, s := range p.slots {
		if !s.exhausted {
			n++
		}
	}
	return n
}

// Reset clears exhaustion flags and counters, modelling the provider's daily renewal.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.slots {
		s.exhausted = false
		s.requests = 0
	}
	p.current = 0

	p.logger.Info("Credential pool reset", zap.String("provider", p.provider), zap.Int("credentials", len(p.slots)))
}

func (p *Pool) Status() domain.PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := domain.PoolStatus{
		Provider:     p.provider,
		Total:        len(p.slots),
		CurrentIndex: p.current,
		Slots:        make([]domain.CredentialStatus, 0, len(p.slots)),
	}
	for i, s := range p.slots {
		if s.exhausted {
			status.Exhausted++
		} else {
			status.Available++
		}
		status.TotalRequests += s.requests
		status.Slots = append(status.Slots, domain.CredentialStatus{
			Index:     i,
			Label:     s.credential.Label,
			Exhausted: s.exhausted,
			Requests:  s.requests,
		})
	}
	return status
}
