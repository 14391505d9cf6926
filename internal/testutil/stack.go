package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/Additional-Code/procura/internal/cache"
	"github.com/Additional-Code/procura/internal/config"
	"github.com/Additional-Code/procura/internal/database"
	"github.com/Additional-Code/procura/internal/messaging"
	repo "github.com/Additional-Code/procura/internal/repository/order"
	"github.com/Additional-Code/procura/internal/service/attachment"
	ordersvc "github.com/Additional-Code/procura/internal/service/order"
	"github.com/Additional-Code/procura/internal/storage/filestore"
)

// Published is a message captured by Publisher.
type Published struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// Publisher records published messages in memory.
type Publisher struct {
	mu       sync.Mutex
	messages []Published
}

func (p *Publisher) Publish(_ context.Context, key, value []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Published{Key: string(key), Value: append([]byte(nil), value...), Headers: headers})
	return nil
}

func (p *Publisher) Consume(ctx context.Context, _ messaging.Handler) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *Publisher) Topic() string { return "orders.events" }

// Messages returns a snapshot of everything published so far.
func (p *Publisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.messages...)
}

// EventTypes lists the event_type header of every published message in order.
func (p *Publisher) EventTypes() []string {
	var types []string
	for _, m := range p.Messages() {
		types = append(types, m.Headers[messaging.HeaderEventType])
	}
	return types
}

// Stack is a fully wired service layer over a migrated SQLite database.
type Stack struct {
	Config      config.Config
	Conns       *database.Connections
	Files       *filestore.Store
	Orders      *ordersvc.Service
	Attachments *attachment.Manager
	Publisher   *Publisher
}

// StackOption customizes NewStack.
type StackOption func(*stackOptions)

type stackOptions struct {
	purger ordersvc.Purger
	meter  metric.MeterProvider
	cache  func(cache.Store) cache.Store
}

// WithPurger replaces the file store as the purge target of the order service.
func WithPurger(p ordersvc.Purger) StackOption {
	return func(o *stackOptions) { o.purger = p }
}

// WithMeterProvider routes service metrics to mp.
func WithMeterProvider(mp metric.MeterProvider) StackOption {
	return func(o *stackOptions) { o.meter = mp }
}

// WithCache wraps the memory cache of the order service.
func WithCache(wrap func(cache.Store) cache.Store) StackOption {
	return func(o *stackOptions) { o.cache = wrap }
}

// Config returns settings suited to tests: SQLite and uploads under dir, messaging on.
func Config(dir string) config.Config {
	return config.Config{
		HTTP:     config.HTTP{Host: "127.0.0.1", Port: 8080, BodyLimit: "8M", AllowedOrigins: []string{"*"}},
		Cache:    config.Cache{Enabled: true, Driver: "memory", DefaultTTL: time.Minute, Memory: config.Memory{Size: 64}},
		Database: SQLiteConfig(dir),
		Messaging: config.Messaging{
			Enabled: true,
			Driver:  "kafka",
			Kafka:   config.Kafka{Topic: "orders.events"},
		},
		Storage: config.Storage{
			UploadRoot:            filepath.Join(dir, "uploads"),
			PublicPrefix:          "/files",
			PurgeRetries:          2,
			PurgeBackoff:          time.Millisecond,
			UploadConflictRetries: 10,
		},
		Observability: config.Observability{ServiceName: "procura-test", PrometheusPath: "/metrics"},
	}
}

// NewStack wires repository, services and file store for one test.
func NewStack(t *testing.T, opts ...StackOption) *Stack {
	t.Helper()

	var o stackOptions
	for _, opt := range opts {
		opt(&o)
	}

	dir := t.TempDir()
	cfg := Config(dir)
	conns := newConnections(t, cfg.Database)

	files, err := filestore.New(cfg)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}

	logger := Logger(t)
	publisher := &Publisher{}
	var store cache.Store = cache.NewMemoryStore(cfg.Cache.Memory.Size, cfg.Cache.DefaultTTL)
	if o.cache != nil {
		store = o.cache(store)
	}
	orders, err := ordersvc.NewService(ordersvc.Params{
		Repository:    repo.NewRepository(conns),
		Cache:         store,
		Config:        cfg,
		Logger:        logger,
		Publisher:     publisher,
		Files:         files,
		Purger:        o.purger,
		MeterProvider: o.meter,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}

	return &Stack{
		Config:      cfg,
		Conns:       conns,
		Files:       files,
		Orders:      orders,
		Attachments: attachment.NewManager(attachment.Params{Orders: orders, Files: files, Logger: logger}),
		Publisher:   publisher,
	}
}
