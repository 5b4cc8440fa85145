// Package availability answers whether a username can still be claimed.
//
// Interactive checks are debounced per key: a newer candidate cancels the
// pending timer and the in-flight lookup of the one it replaces, so only the
// latest candidate is looked up and only its result is delivered.
package availability

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/config"
	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/model"
)

// Reasons a candidate is unavailable.
const (
	ReasonTaken   = "taken"
	ReasonInvalid = "invalid"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.]{3,30}$`)

// Result is the outcome of one check.
type Result struct {
	Candidate string `json:"candidate"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
}

// Callback receives the result of a debounced check.
type Callback func(Result, error)

// Lookup reports whether a normalized username is already claimed.
type Lookup interface {
	Taken(ctx context.Context, username string) (bool, error)
}

// Normalize lowercases and trims a candidate.
func Normalize(candidate string) string {
	return strings.ToLower(strings.TrimSpace(candidate))
}

// Valid reports whether a normalized candidate has an acceptable format.
func Valid(username string) bool {
	return usernamePattern.MatchString(username)
}

type pending struct {
	timer      *time.Timer
	cancel     context.CancelFunc
	superseded chan struct{}
}

// Checker runs availability checks against a Lookup with a bounded cache.
type Checker struct {
	lookup   Lookup
	debounce time.Duration
	cache    *lru.Cache[string, bool]
	metrics  *observability.Metrics
	logger   *zap.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*pending
	closed  bool
}

// NewChecker creates a checker from cfg.
func NewChecker(lookup Lookup, cfg config.AvailabilityConfig, metrics *observability.Metrics, logger *zap.Logger) (*Checker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, bool](size)
	if err != nil {
		return nil, err
	}
	base, stop := context.WithCancel(context.Background())
	return &Checker{
		lookup:   lookup,
		debounce: cfg.Debounce,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		base:     base,
		stop:     stop,
		pending:  make(map[string]*pending),
	}, nil
}

// Check schedules a debounced check of candidate for key, typically one
// input field of one client. A later Check for the same key supersedes this
// one; cb is then never called for it. cb runs on its own goroutine.
func (c *Checker) Check(key, candidate string, cb Callback) {
	c.schedule(key, candidate, cb)
}

// Await is Check for synchronous callers. It returns a SUPERSEDED error when
// a newer check for key replaces this one before it completes.
func (c *Checker) Await(ctx context.Context, key, candidate string) (Result, error) {
	out := make(chan delivery, 1)
	p := c.schedule(key, candidate, func(r Result, err error) {
		out <- delivery{r, err}
	})
	if p == nil {
		return Result{}, model.NewSupersededError("availability check")
	}
	select {
	case d := <-out:
		return d.res, d.err
	case <-p.superseded:
		return Result{}, model.NewSupersededError("availability check")
	case <-ctx.Done():
		c.abandon(key, p)
		return Result{}, ctx.Err()
	}
}

type delivery struct {
	res Result
	err error
}

// schedule registers a pending check and returns it, or nil when closed.
func (c *Checker) schedule(key, candidate string, cb Callback) *pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if _, ok := c.pending[key]; ok {
		c.dropLocked(key)
		c.metrics.RecordAvailabilitySuperseded()
		c.logger.Debug("availability check superseded", zap.String("key", key))
	}

	ctx, cancel := context.WithCancel(c.base)
	p := &pending{cancel: cancel, superseded: make(chan struct{})}
	c.wg.Add(1)
	p.timer = time.AfterFunc(c.debounce, func() {
		defer c.wg.Done()
		c.run(ctx, key, p, candidate, cb)
	})
	c.pending[key] = p
	return p
}

// abandon drops p if it is still the pending check for key.
func (c *Checker) abandon(key string, p *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[key] == p {
		c.dropLocked(key)
	}
}

// dropLocked stops and cancels the pending check for key.
func (c *Checker) dropLocked(key string) {
	p := c.pending[key]
	delete(c.pending, key)
	if p.timer.Stop() {
		c.wg.Done()
	}
	p.cancel()
	close(p.superseded)
}

func (c *Checker) run(ctx context.Context, key string, p *pending, candidate string, cb Callback) {
	defer p.cancel()
	res, err := c.CheckNow(ctx, candidate)

	c.mu.Lock()
	current := c.pending[key] == p
	if current {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !current || ctx.Err() != nil {
		return
	}
	cb(res, err)
}

// CheckNow checks candidate immediately, consulting the cache first.
func (c *Checker) CheckNow(ctx context.Context, candidate string) (Result, error) {
	name := Normalize(candidate)
	if !Valid(name) {
		c.metrics.RecordAvailabilityCheck(ReasonInvalid)
		return Result{Candidate: name, Reason: ReasonInvalid}, nil
	}

	if available, ok := c.cache.Get(name); ok {
		c.metrics.RecordAvailabilityCacheHit()
		c.logger.Debug("availability cache hit", zap.String("candidate", name))
		return result(name, available, true), nil
	}
	c.metrics.RecordAvailabilityCacheMiss()

	ctx, span := observability.StartSpan(ctx, "availability.lookup",
		observability.AttrCacheHit.Bool(false),
	)
	taken, err := c.lookup.Taken(ctx, name)
	observability.EndSpanWithError(span, err)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		c.metrics.RecordAvailabilityCheck("error")
		if _, ok := model.AsEnvelope(err); ok {
			return Result{}, err
		}
		return Result{}, model.NewRemoteError("Could not check username availability. Please try again.", err)
	}

	c.cache.Add(name, !taken)
	res := result(name, !taken, false)
	if taken {
		c.metrics.RecordAvailabilityCheck(ReasonTaken)
	} else {
		c.metrics.RecordAvailabilityCheck("available")
	}
	return res, nil
}

// Forget drops candidate from the cache, e.g. after it was claimed.
func (c *Checker) Forget(candidate string) {
	c.cache.Remove(Normalize(candidate))
}

// Pending returns the number of scheduled or running checks.
func (c *Checker) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close cancels every pending check and waits for running ones to return.
func (c *Checker) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for key := range c.pending {
		c.dropLocked(key)
	}
	c.mu.Unlock()

	c.stop()
	c.wg.Wait()
}

func result(name string, available, cached bool) Result {
	r := Result{Candidate: name, Available: available, Cached: cached}
	if !available {
		r.Reason = ReasonTaken
	}
	return r
}
