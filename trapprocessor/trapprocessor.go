// Package trapprocessor drives trap dump documents through extraction and
// publishing.
//
// A text stream holding any number of trap dumps is split into documents,
// each document is handed to a worker, and every record the extractor finds
// is published. Documents without a complete record are dropped and counted.
//
// Basic Usage:
//
//	config := map[string]any{
//		"worker_pool": map[string]any{
//			"enabled": true,
//			"size":    4,
//		},
//		"queue_size":        64,
//		"max_document_size": 65536,
//	}
//
//	processor, err := trapprocessor.New(config, publisher)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer processor.Close()
//
//	if err := processor.Run(ctx, os.Stdin); err != nil {
//		log.Fatal(err)
//	}
//	stats := processor.Stats()
package trapprocessor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/geekxflood/olttrap/logging"
	"github.com/geekxflood/olttrap/publish"
	"github.com/geekxflood/olttrap/ruler"
	"github.com/geekxflood/olttrap/trapextract"
)

// Config defines the settings the processor needs. It can be implemented by
// any configuration source; New also accepts a plain map.
type Config interface {
	GetWorkerPoolSize() int
	GetWorkerPoolEnabled() bool
	GetQueueSize() int
	GetMaxDocumentSize() int
}

// configImpl implements the Config interface with default values.
type configImpl struct {
	workerPoolSize    int
	workerPoolEnabled bool
	queueSize         int
	maxDocumentSize   int
}

func (c *configImpl) GetWorkerPoolSize() int     { return c.workerPoolSize }
func (c *configImpl) GetWorkerPoolEnabled() bool { return c.workerPoolEnabled }
func (c *configImpl) GetQueueSize() int          { return c.queueSize }
func (c *configImpl) GetMaxDocumentSize() int    { return c.maxDocumentSize }

// Stats counts documents by outcome. Received equals the sum of the other
// counters once processing has finished.
type Stats struct {
	Received  uint64 `json:"received"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Filtered  uint64 `json:"filtered"`
	Failed    uint64 `json:"failed"`
}

// Processor extracts alarm records from trap documents and publishes them.
type Processor struct {
	config    *configImpl
	publisher publish.Publisher
	rules     *ruler.Ruler
	logger    logging.Logger

	received  atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
	filtered  atomic.Uint64
	failed    atomic.Uint64
}

// Option customizes a Processor.
type Option func(*Processor)

// WithLogger sets the logger used for per-document events.
func WithLogger(logger logging.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRuler routes every extracted alarm through rules. Alarms the rules
// drop are counted as filtered and never published.
func WithRuler(rules *ruler.Ruler) Option {
	return func(p *Processor) {
		p.rules = rules
	}
}

// New creates a processor publishing to publisher. configObj is either a
// map[string]any or a value implementing Config.
//
// Map configuration (nested):
//
//	map[string]any{
//	  "worker_pool":       map[string]any{"enabled": true, "size": 8},
//	  "queue_size":        128,
//	  "max_document_size": 65536,
//	}
//
// Map configuration (flat):
//
//	map[string]any{
//	  "worker_pool_size":    8,
//	  "worker_pool_enabled": false,
//	}
//
// An empty map uses the defaults.
func New(configObj any, publisher publish.Publisher, opts ...Option) (*Processor, error) {
	if publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}

	config, err := parseConfig(configObj)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	p := &Processor{
		config:    config,
		publisher: publisher,
		logger:    logging.NewComponentLogger("trapprocessor", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ProcessDocument extracts one document and publishes the result. A document
// without a complete record is dropped and nil is returned; a publish failure
// is returned.
func (p *Processor) ProcessDocument(ctx context.Context, doc Document) error {
	p.received.Add(1)
	ctx = logging.WithDocumentID(ctx, doc.ID)

	if doc.Truncated {
		p.dropped.Add(1)
		p.logger.WarnContext(ctx, "document dropped",
			"reason", "exceeds max_document_size", "limit", p.config.maxDocumentSize)
		return nil
	}

	msg, ok := trapextract.Process(doc.Text)
	if !ok {
		p.dropped.Add(1)
		p.logger.DebugContext(ctx, "document dropped", "reason", trapextract.ErrExtractionMiss)
		return nil
	}

	ctx = logging.WithOLTName(ctx, msg.OLTName)
	ctx = logging.WithTrapType(ctx, msg.TrapType)

	if p.rules != nil {
		if decision := p.rules.Evaluate(msg); decision.Action == ruler.ActionDrop {
			p.filtered.Add(1)
			p.logger.DebugContext(ctx, "alarm filtered", "rule", decision.Rule)
			return nil
		}
	}

	if err := p.publisher.Publish(ctx, msg); err != nil {
		p.failed.Add(1)
		p.logger.ErrorContext(ctx, "publish failed", "error", err)
		return fmt.Errorf("document %d: %w", doc.ID, err)
	}

	p.published.Add(1)
	p.logger.DebugContext(ctx, "alarm published",
		"serial", msg.Serial, "ont_location", msg.ONTLocation)
	return nil
}

// Run splits r into documents and processes them until r is exhausted or
// ctx is cancelled. Queued documents are finished before Run returns.
func (p *Processor) Run(ctx context.Context, r io.Reader) error {
	pool, err := NewWorkerPool(p.config, p)
	if err != nil {
		return err
	}
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	reader := NewReader(r, p.config.maxDocumentSize)
	runErr := func() error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read trap stream: %w", err)
			}
			// Publish failures are already counted and logged per document.
			if err := pool.Submit(ctx, doc); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}()

	pool.Stop(ctx)

	stats := p.Stats()
	p.logger.Info("trap stream finished",
		"received", stats.Received, "published", stats.Published,
		"dropped", stats.Dropped, "filtered", stats.Filtered, "failed", stats.Failed)
	return runErr
}

// Stats returns a snapshot of the document counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Received:  p.received.Load(),
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Filtered:  p.filtered.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close closes the publisher.
func (p *Processor) Close() error {
	return p.publisher.Close()
}

// parseConfig parses configuration from various input types.
func parseConfig(configObj any) (*configImpl, error) {
	config := &configImpl{
		workerPoolSize:    4,
		workerPoolEnabled: true,
		queueSize:         64,
		maxDocumentSize:   64 * 1024,
	}

	switch cfg := configObj.(type) {
	case nil:
		return config, nil
	case map[string]any:
		return parseMapConfig(config, cfg)
	case Config:
		return parseConfigInterface(config, cfg)
	default:
		return nil, fmt.Errorf("unsupported configuration type: %T", configObj)
	}
}

// parseMapConfig parses configuration from a map with type conversion and validation.
func parseMapConfig(config *configImpl, cfg map[string]any) (*configImpl, error) {
	if poolCfg, ok := cfg["worker_pool"].(map[string]any); ok {
		if err := parseWorkerPoolConfig(config, poolCfg); err != nil {
			return nil, fmt.Errorf("invalid worker pool configuration: %w", err)
		}
	}

	if size := getIntValue(cfg, "queue_size"); size != 0 {
		config.queueSize = size
	}
	if size := getIntValue(cfg, "max_document_size"); size != 0 {
		config.maxDocumentSize = size
	}

	if err := parseFlatConfig(config, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// parseWorkerPoolConfig parses worker pool configuration.
func parseWorkerPoolConfig(config *configImpl, poolCfg map[string]any) error {
	if enabled := getBoolValue(poolCfg, "enabled"); enabled != nil {
		config.workerPoolEnabled = *enabled
	}

	if size := getIntValue(poolCfg, "size"); size != 0 {
		if size < 1 || size > 1000 {
			return fmt.Errorf("worker pool size must be between 1 and 1000, got %d", size)
		}
		config.workerPoolSize = size
	}
	return nil
}

// parseFlatConfig accepts the worker pool keys at the top level.
func parseFlatConfig(config *configImpl, cfg map[string]any) error {
	if size := getIntValue(cfg, "worker_pool_size"); size != 0 {
		if size < 1 || size > 1000 {
			return fmt.Errorf("worker pool size must be between 1 and 1000, got %d", size)
		}
		config.workerPoolSize = size
	}
	if enabled := getBoolValue(cfg, "worker_pool_enabled"); enabled != nil {
		config.workerPoolEnabled = *enabled
	}
	return nil
}

// parseConfigInterface parses configuration from a Config interface.
func parseConfigInterface(config *configImpl, cfg Config) (*configImpl, error) {
	config.workerPoolSize = cfg.GetWorkerPoolSize()
	config.workerPoolEnabled = cfg.GetWorkerPoolEnabled()
	config.queueSize = cfg.GetQueueSize()
	config.maxDocumentSize = cfg.GetMaxDocumentSize()

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// getIntValue safely extracts an int value from a map.
func getIntValue(m map[string]any, key string) int {
	if val, ok := m[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

// getBoolValue safely extracts a bool value from a map.
func getBoolValue(m map[string]any, key string) *bool {
	if val, ok := m[key]; ok {
		if b, ok := val.(bool); ok {
			return &b
		}
	}
	return nil
}

// validateConfig validates the final configuration.
func validateConfig(config *configImpl) error {
	if config.workerPoolSize < 1 {
		return errors.New("worker pool size must be at least 1")
	}
	if config.queueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got %d", config.queueSize)
	}
	if config.maxDocumentSize < 256 {
		return fmt.Errorf("max document size must be at least 256 bytes, got %d", config.maxDocumentSize)
	}
	return nil
}

// DocumentProcessor handles one trap document.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, doc Document) error
}

// WorkerPool fans documents out to a fixed set of goroutines. When disabled,
// Submit processes documents on the caller's goroutine.
type WorkerPool struct {
	workers   int
	enabled   bool
	processor DocumentProcessor
	jobs      chan Document
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(config Config, processor DocumentProcessor) (*WorkerPool, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}

	return &WorkerPool{
		workers:   config.GetWorkerPoolSize(),
		enabled:   config.GetWorkerPoolEnabled(),
		processor: processor,
		jobs:      make(chan Document, config.GetQueueSize()),
	}, nil
}

// Start launches the workers. Their context is derived from ctx.
func (w *WorkerPool) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	if !w.enabled {
		return nil
	}

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	return nil
}

// Stop closes the queue and waits for the workers to finish what was
// already submitted.
func (w *WorkerPool) Stop(_ context.Context) {
	w.stopOnce.Do(func() {
		if w.enabled {
			close(w.jobs)
			w.wg.Wait()
		}
		if w.cancel != nil {
			w.cancel()
		}
	})
}

// worker processes jobs from the job channel until it is closed.
func (w *WorkerPool) worker() {
	defer w.wg.Done()

	for doc := range w.jobs {
		if w.ctx.Err() != nil {
			continue
		}
		// The processor records and logs its own failures.
		_ = w.processor.ProcessDocument(w.ctx, doc)
	}
}

// Submit queues doc, blocking while the queue is full.
func (w *WorkerPool) Submit(ctx context.Context, doc Document) error {
	if !w.enabled {
		return w.processor.ProcessDocument(ctx, doc)
	}

	select {
	case w.jobs <- doc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
