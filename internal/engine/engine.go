package engine

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/eventlog"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/lifecycle"
	"github.com/roach88/folio/internal/locks"
	"github.com/roach88/folio/internal/metrics"
	"github.com/roach88/folio/internal/queryir"
	"github.com/roach88/folio/internal/querysql"
	"github.com/roach88/folio/internal/store"
)

// DefaultSchemaCacheSize is the number of parsed schema versions kept in
// memory.
const DefaultSchemaCacheSize = 16

// Repository is a schema-driven content repository over one storage
// backend.
//
// Thread-safety: Repository is safe for concurrent use. Every operation
// runs in its own storage transaction.
type Repository struct {
	backend   store.Backend
	compiler  querysql.Compiler
	machine   *lifecycle.Machine
	locks     *locks.Manager
	events    *eventlog.Log
	auth      auth.Adapter
	clock     Clock
	eventIDs  IDGenerator
	entityIDs IDGenerator
	metrics   *metrics.Collector
	logger    *slog.Logger

	defaultAuthKeys []string
	defaultPage     int
	maxPage         int
	cacheSize       int
	schemas         *lru.Cache // schema version → *schema.Schema

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures a Repository.
type Option func(*Repository)

// WithAuthorizationAdapter sets the adapter that resolves authorization
// keys. Default: auth.DefaultAdapter.
func WithAuthorizationAdapter(a auth.Adapter) Option {
	return func(r *Repository) {
		r.auth = a
	}
}

// WithDefaultAuthKeys sets the authorization keys searches use when the
// query names none. Default: "none".
func WithDefaultAuthKeys(keys ...string) Option {
	return func(r *Repository) {
		r.defaultAuthKeys = keys
	}
}

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(r *Repository) {
		r.clock = c
	}
}

// WithUUIDGenerator sets the generator of entity ids. Default: the
// backend's RandomUUID.
func WithUUIDGenerator(g IDGenerator) Option {
	return func(r *Repository) {
		r.entityIDs = g
	}
}

// WithEventIDGenerator sets the generator of event ids. Default:
// UUIDv7Generator.
func WithEventIDGenerator(g IDGenerator) Option {
	return func(r *Repository) {
		r.eventIDs = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = l
	}
}

// WithMetrics sets the metrics collector. Default: none.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Repository) {
		r.metrics = m
	}
}

// WithSchemaCacheSize sets how many parsed schema versions are cached.
func WithSchemaCacheSize(n int) Option {
	return func(r *Repository) {
		r.cacheSize = n
	}
}

// WithPageSizes sets the default and maximum page sizes of searches,
// samples and the changelog.
//
// Default: 25 and 1000.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(r *Repository) {
		r.defaultPage = defaultSize
		r.maxPage = maxSize
	}
}

// WithRandomSeed seeds the random source behind name suffixes and
// unseeded samples. Default: a random seed.
func WithRandomSeed(seed uint64) Option {
	return func(r *Repository) {
		r.rand = rand.New(rand.NewPCG(seed, seed))
	}
}

// New creates a Repository over backend.
func New(backend store.Backend, opts ...Option) (*Repository, error) {
	r := &Repository{
		backend:         backend,
		compiler:        querysql.NewCompiler(backend.Dialect()),
		auth:            auth.DefaultAdapter{},
		clock:           SystemClock{},
		eventIDs:        UUIDv7Generator{},
		entityIDs:       backendGenerator{random: backend.RandomUUID},
		logger:          slog.Default(),
		defaultAuthKeys: []string{auth.KeyNone},
		defaultPage:     queryir.DefaultPageSize,
		maxPage:         queryir.MaxPageSize,
		cacheSize:       DefaultSchemaCacheSize,
		rand:            rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.defaultPage <= 0 || r.maxPage < r.defaultPage {
		return nil, ir.NewBadRequest("invalid page sizes: default %d, max %d", r.defaultPage, r.maxPage)
	}

	cache, err := lru.New(max(r.cacheSize, 1))
	if err != nil {
		return nil, ir.NewGeneric(err, "create schema cache")
	}
	r.schemas = cache
	r.machine = lifecycle.NewMachine(r.logger)
	r.locks = locks.NewManager(backend,
		locks.WithClock(r.now),
		locks.WithLogger(r.logger),
	)
	r.events = eventlog.New(backend,
		eventlog.WithPageSizes(r.defaultPage, r.maxPage),
		eventlog.WithLogger(r.logger),
	)
	return r, nil
}

// Close closes the storage backend.
func (r *Repository) Close() error {
	return r.backend.Close()
}

// observe records the outcome of an operation started at started and
// returns err unchanged, converted to a repository error.
func (r *Repository) observe(ctx context.Context, op string, started time.Time, effect ir.Effect, err error) error {
	if err != nil {
		e := ir.AsError(err)
		r.metrics.Observe(op, started, "", string(e.Kind))
		if e.Kind == ir.ErrGeneric {
			r.logger.ErrorContext(ctx, "operation failed", "op", op, "error", e)
		} else {
			r.logger.DebugContext(ctx, "operation rejected", "op", op, "kind", e.Kind, "error", e.Message)
		}
		return e
	}
	r.metrics.Observe(op, started, string(effect), "")
	return nil
}

func (r *Repository) randIntN(n int) int {
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.rand.IntN(n)
}

func (r *Repository) randSeed() int64 {
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.rand.Int64()
}
