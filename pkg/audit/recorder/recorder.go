package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"monay-hq/authz/pkg/audit"
)

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("audit recorder closed")

// Outcomes reported to an Observer.
const (
	ResultStored  = "stored"
	ResultFailed  = "failed"
	ResultDropped = "dropped"
)

// Publisher receives every stored record.
type Publisher interface {
	Publish(ctx context.Context, record *audit.Record) error
	Close() error
}

// Observer is notified of the fate of each record.
type Observer interface {
	ObserveAuditRecord(result string)
}

// Config contains configuration for the audit recorder.
type Config struct {
	// Enabled enables audit recording.
	Enabled bool

	// AsyncBuffer is the size of the write queue.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds both enqueueing and each storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:      true,
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithPublishers adds publishers that receive each stored record.
func WithPublishers(publishers ...Publisher) Option {
	return func(r *Recorder) { r.publishers = append(r.publishers, publishers...) }
}

// WithObserver sets the observer notified for each record.
func WithObserver(o Observer) Option {
	return func(r *Recorder) { r.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l.With("component", "audit.recorder")
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder queues audit records and writes them from a single worker.
type Recorder struct {
	storage    audit.Storage
	publishers []Publisher
	observer   Observer
	config     *Config
	logger     *slog.Logger
	now        func() time.Time

	recordChan chan *audit.Record
	done       chan struct{}
	wg         sync.WaitGroup

	// intake guards closed; Record holds it shared while enqueueing.
	intake sync.RWMutex
	closed bool

	mu       sync.Mutex
	lastHash string
	lastTime time.Time
}

// NewRecorder creates a recorder and resumes the hash chain from the newest
// record already in storage.
func NewRecorder(ctx context.Context, storage audit.Storage, config *Config, opts ...Option) (*Recorder, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = DefaultConfig().AsyncBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	r := &Recorder{
		storage:    storage,
		config:     config,
		logger:     slog.Default().With("component", "audit.recorder"),
		now:        time.Now,
		recordChan: make(chan *audit.Record, config.AsyncBuffer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	head, err := storage.Query(ctx, &audit.Query{Limit: 1, SortOrder: audit.SortDesc})
	if err != nil {
		return nil, err
	}
	if len(head) == 1 {
		r.lastHash = head[0].Hash
		r.lastTime = head[0].Timestamp
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("audit recorder initialized",
		"enabled", config.Enabled,
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
		"publishers", len(r.publishers),
		"resumed", r.lastHash != "",
	)
	return r, nil
}

// Record queues a copy of record for writing. ID and Actor are filled in
// when empty; Timestamp, PrevHash and Hash are always assigned by the worker.
func (r *Recorder) Record(ctx context.Context, record *audit.Record) error {
	if !r.config.Enabled {
		return nil
	}
	if record == nil {
		return audit.NewRecorderError("", errors.New("nil record"))
	}

	rec := record.Clone()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Actor == "" {
		rec.Actor = audit.DefaultActor
	}

	r.intake.RLock()
	defer r.intake.RUnlock()
	if r.closed {
		r.observe(ResultDropped)
		return audit.NewRecorderError(rec.ID, ErrClosed)
	}

	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.recordChan <- rec:
		return nil
	case <-timer.C:
		r.logger.Error("audit queue full, dropping record",
			"record_id", rec.ID,
			"transaction_id", rec.TransactionID,
			"channel_capacity", r.config.AsyncBuffer,
		)
		r.observe(ResultDropped)
		return audit.NewRecorderError(rec.ID, context.DeadlineExceeded)
	case <-ctx.Done():
		r.observe(ResultDropped)
		return audit.NewRecorderError(rec.ID, ctx.Err())
	}
}

// LastHash returns the hash of the most recently stored record.
func (r *Recorder) LastHash() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHash
}

// Close stops intake, writes every queued record and closes the publishers.
func (r *Recorder) Close() error {
	r.intake.Lock()
	if r.closed {
		r.intake.Unlock()
		return nil
	}
	r.closed = true
	r.intake.Unlock()

	r.logger.Info("shutting down audit recorder", "pending_count", len(r.recordChan))
	close(r.done)
	r.wg.Wait()

	var errs []error
	for _, p := range r.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info("audit recorder shut down complete")
	return errors.Join(errs...)
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case rec := <-r.recordChan:
			r.writeRecord(rec)
		case <-r.done:
			for {
				select {
				case rec := <-r.recordChan:
					r.writeRecord(rec)
				default:
					r.logger.Info("audit queue drained")
					return
				}
			}
		}
	}
}

func (r *Recorder) writeRecord(rec *audit.Record) {
	r.mu.Lock()
	ts := r.now().UTC()
	if ts.Before(r.lastTime) {
		ts = r.lastTime
	}
	rec.Timestamp = ts
	rec.PrevHash = r.lastHash
	r.mu.Unlock()

	hash, err := audit.ComputeHash(rec)
	if err != nil {
		r.logger.Error("failed to hash audit record", "record_id", rec.ID, "error", err)
		r.observe(ResultFailed)
		return
	}
	rec.Hash = hash

	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.storage.Store(ctx, rec); err != nil {
		r.logger.Error("failed to store audit record",
			"record_id", rec.ID,
			"transaction_id", rec.TransactionID,
			"error", err,
		)
		r.observe(ResultFailed)
		return
	}
	duration := time.Since(start)

	r.mu.Lock()
	r.lastHash = hash
	r.lastTime = ts
	r.mu.Unlock()
	r.observe(ResultStored)

	r.logger.Debug("audit record stored",
		"record_id", rec.ID,
		"transaction_id", rec.TransactionID,
		"outcome", rec.Outcome,
		"duration_ms", duration.Milliseconds(),
	)
	if duration > r.config.WriteTimeout/2 {
		r.logger.Warn("slow audit write",
			"record_id", rec.ID,
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", (r.config.WriteTimeout / 2).Milliseconds(),
		)
	}

	for _, p := range r.publishers {
		if err := p.Publish(ctx, rec.Clone()); err != nil {
			r.logger.Warn("failed to publish audit record",
				"record_id", rec.ID,
				"transaction_id", rec.TransactionID,
				"error", err,
			)
		}
	}
}

func (r *Recorder) observe(result string) {
	if r.observer != nil {
		r.observer.ObserveAuditRecord(result)
	}
}
