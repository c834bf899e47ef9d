// Package token holds the in-process registry of short-lived scan tokens.
//
// The registry is deliberately not persisted: tokens outlive neither their
// TTL nor the process. Expiry is enforced three ways, any of which may win:
// a per-token timer, a periodic sweep, and a lazy check on lookup.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// Issued is the result of Issue. IssuedAt is stable across cache reuse so
// callers can derive deterministic artifacts (QR payloads, image names) from
// the token's mint time.
type Issued struct {
	Token     string
	ExpiresIn time.Duration
	IssuedAt  time.Time
	Reused    bool
}

type entry struct {
	sessionID string
	ip        string
	expiresAt time.Time
	timer     *time.Timer
}

type ipEntry struct {
	token     string
	ttl       time.Duration
	sessionID string
	issuedAt  time.Time
	expiresAt time.Time
}

// Registry is a concurrency-safe scan-token store with TTL expiry.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*entry
	byIP   map[string]ipEntry

	sweepEvery time.Duration
	sweepHook  func()
	now        func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithSweepInterval overrides the periodic sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepEvery = d }
}

// WithSweepHook runs fn after each periodic sweep (e.g. QR image cleanup).
func WithSweepHook(fn func()) Option {
	return func(r *Registry) { r.sweepHook = fn }
}

// WithClock overrides the time source. Timers still run on the wall clock;
// intended for tests exercising the lazy-expiry path.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry and starts its background sweep.
func New(opts ...Option) *Registry {
	r := &Registry{
		tokens:     make(map[string]*entry),
		byIP:       make(map[string]ipEntry),
		sweepEvery: 5 * time.Minute,
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.sweepLoop()
	return r
}

// Issue returns a scan token bound to sessionID for the given client IP.
// A prior unexpired token issued to the same IP with the same ttl and the
// same sessionID is returned again with its remaining lifetime, so a display
// device polling for the QR does not mint a fresh token on every request.
func (r *Registry) Issue(ip string, ttl time.Duration, sessionID string) Issued {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if cached, ok := r.byIP[ip]; ok {
		remaining := cached.expiresAt.Sub(now)
		if remaining > 0 && cached.ttl == ttl && cached.sessionID == sessionID {
			return Issued{Token: cached.token, ExpiresIn: remaining, IssuedAt: cached.issuedAt, Reused: true}
		}
	}

	tok := mint()
	expiresAt := now.Add(ttl)
	e := &entry{sessionID: sessionID, ip: ip, expiresAt: expiresAt}
	e.timer = time.AfterFunc(ttl, func() { r.expire(tok) })
	r.tokens[tok] = e
	r.byIP[ip] = ipEntry{token: tok, ttl: ttl, sessionID: sessionID, issuedAt: now, expiresAt: expiresAt}

	return Issued{Token: tok, ExpiresIn: ttl, IssuedAt: now}
}

// Validate reports whether tok is known and unexpired. An expired token found
// here is evicted immediately rather than waiting for its timer.
func (r *Registry) Validate(tok string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tokens[tok]
	if !ok {
		return false
	}
	if !e.expiresAt.After(r.now()) {
		r.remove(tok, e)
		return false
	}
	return true
}

// ResolveSession returns the session id bound to tok, or "" when the token
// is unknown, expired, or was issued without a session.
func (r *Registry) ResolveSession(tok string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tokens[tok]
	if !ok {
		return ""
	}
	if !e.expiresAt.After(r.now()) {
		r.remove(tok, e)
		return ""
	}
	return e.sessionID
}

// Len returns the number of live tokens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// Close stops the sweep loop and all pending expiry timers.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	defer r.mu.Unlock()
	for tok, e := range r.tokens {
		r.remove(tok, e)
	}
}

func (r *Registry) expire(tok string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tokens[tok]; ok {
		r.remove(tok, e)
	}
}

// remove deletes a token and its IP-cache entry. Callers hold r.mu.
func (r *Registry) remove(tok string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(r.tokens, tok)
	if cached, ok := r.byIP[e.ip]; ok && cached.token == tok {
		delete(r.byIP, e.ip)
	}
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
			if r.sweepHook != nil {
				r.sweepHook()
			}
		case <-r.stop:
			return
		}
	}
}

// sweep drops expired entries missed by their timers, e.g. when a timer and
// a concurrent lookup race on the same token.
func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for tok, e := range r.tokens {
		if !e.expiresAt.After(now) {
			r.remove(tok, e)
		}
	}
	for ip, cached := range r.byIP {
		if !cached.expiresAt.After(now) {
			delete(r.byIP, ip)
		}
	}
}

func mint() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)
}
