package daichi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAuthFailed means the account needs new credentials.
	ErrAuthFailed = errors.New("daichi authentication failed, reconfigure credentials")
	// ErrUpdateFailed means the tick failed but the next one may succeed.
	ErrUpdateFailed = errors.New("daichi temporarily unavailable, will retry next cycle")
)

// Source is what the poller needs from the API client.
type Source interface {
	Authenticated() bool
	Authenticate(ctx context.Context) error
	ClearCache()
	Devices(ctx context.Context, buildingID int64, force bool) ([]Record, error)
	DeviceState(ctx context.Context, deviceID int64) (Record, error)
}

// Authenticated reports whether a bearer token is cached.
func (c *Client) Authenticated() bool {
	return c.session.HasToken()
}

// Snapshot is the merged device state of one successful tick. It is shared
// between readers and must not be modified.
type Snapshot struct {
	Devices   map[string]Record
	Order     []string
	UpdatedAt time.Time
}

func (s Snapshot) Device(id string) (Record, bool) {
	record, ok := s.Devices[id]
	return record, ok
}

func (s Snapshot) Len() int {
	return len(s.Order)
}

// Records returns the records in directory order.
func (s Snapshot) Records() []Record {
	out := make([]Record, 0, len(s.Order))
	for _, id := range s.Order {
		out = append(out, s.Devices[id])
	}
	return out
}

// Listener receives every successful snapshot.
type Listener func(Snapshot)

// Poller refreshes device state on a fixed interval.
type Poller struct {
	source      Source
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	// tickSlot holds one token while a tick runs.
	tickSlot   chan struct{}
	refreshing atomic.Bool
	requests   chan struct{}

	mu          sync.RWMutex
	snapshot    Snapshot
	lastErr     error
	lastAttempt time.Time
	lastSuccess time.Time
	listeners   []Listener
}

func NewPoller(source Source, interval time.Duration, concurrency int, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:      source,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger.With("component", "poller"),
		now:         time.Now,
		requests:    make(chan struct{}, 1),
		tickSlot:    make(chan struct{}, 1),
		snapshot:    Snapshot{Devices: map[string]Record{}},
	}
}

// OnUpdate registers a listener for successful ticks.
func (p *Poller) OnUpdate(listener Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, listener)
}

// Snapshot returns the last successful snapshot.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// LastError returns the failure of the latest tick, or nil after a success.
func (p *Poller) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// LastSuccess is the time of the last successful tick.
func (p *Poller) LastSuccess() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSuccess
}

// LastAttempt is the start time of the latest tick.
func (p *Poller) LastAttempt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastAttempt
}

func (p *Poller) Refreshing() bool {
	return p.refreshing.Load()
}

// RequestRefresh queues a tick. Requests made while one is queued are merged.
func (p *Poller) RequestRefresh() {
	select {
	case p.requests <- struct{}{}:
	default:
	}
}

// Refresh runs one tick now, waiting for any tick in progress. It gives up
// waiting when ctx is done.
func (p *Poller) Refresh(ctx context.Context) (Snapshot, error) {
	select {
	case p.tickSlot <- struct{}{}:
	case <-ctx.Done():
		return Snapshot{}, translateTickError(cannotConnect("refresh", ctx.Err()))
	}
	defer func() { <-p.tickSlot }()
	return p.tick(ctx)
}

func (p *Poller) scheduledTick(ctx context.Context) {
	select {
	case p.tickSlot <- struct{}{}:
	default:
		p.logger.Debug("daichi tick already running, skipping scheduled refresh")
		return
	}
	defer func() { <-p.tickSlot }()
	_, _ = p.tick(ctx)
}

// Run performs an initial tick, then ticks on the interval and on request
// until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if _, err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn("initial daichi refresh failed", "error", err)
	}

	clog := cronLogger{logger: p.logger}
	scheduler := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if _, err := scheduler.AddFunc("@every "+p.interval.String(), func() { p.scheduledTick(ctx) }); err != nil {
		return fmt.Errorf("schedule daichi poller: %w", err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.requests:
			if _, err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("requested daichi refresh failed", "error", err)
			}
		}
	}
}

func (p *Poller) tick(ctx context.Context) (Snapshot, error) {
	p.refreshing.Store(true)
	defer p.refreshing.Store(false)

	logger := p.logger.With("tick_id", uuid.NewString())
	started := p.now()

	snapshot, err := p.fetch(ctx, logger)
	tickDuration.Observe(p.now().Sub(started).Seconds())

	p.mu.Lock()
	p.lastAttempt = started
	if err != nil {
		p.lastErr = err
		p.mu.Unlock()
		tickTotal.WithLabelValues(tickResult(err)).Inc()
		logger.Warn("daichi refresh failed", "error", err)
		return Snapshot{}, err
	}
	p.snapshot = snapshot
	p.lastErr = nil
	p.lastSuccess = snapshot.UpdatedAt
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.Unlock()

	tickTotal.WithLabelValues("success").Inc()
	logger.Debug("daichi refresh complete", "devices", snapshot.Len())
	for _, listener := range listeners {
		listener(snapshot)
	}
	return snapshot, nil
}

type indexedRecord struct {
	id     int64
	record Record
}

func (p *Poller) fetch(ctx context.Context, logger *slog.Logger) (Snapshot, error) {
	if !p.source.Authenticated() {
		if err := p.source.Authenticate(ctx); err != nil {
			return Snapshot{}, translateTickError(err)
		}
	}

	p.source.ClearCache()
	records, err := p.source.Devices(ctx, allBuildings, true)
	if err != nil {
		return Snapshot{}, translateTickError(err)
	}

	devices := make([]indexedRecord, 0, len(records))
	for _, record := range records {
		id, ok := record.ID()
		if !ok {
			logger.Debug("skipping daichi record without id")
			continue
		}
		devices = append(devices, indexedRecord{id: id, record: record})
	}

	merged := make([]Record, len(devices))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, device := range devices {
		g.Go(func() error {
			deep, err := p.source.DeviceState(ctx, device.id)
			if err != nil {
				deepFetchFailures.Inc()
				logger.Warn("daichi device state unavailable, using directory record",
					"device_id", device.id,
					"error", err,
				)
				merged[i] = device.record
				return nil
			}
			merged[i] = MergeRecords(device.record, deep)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Snapshot{}, translateTickError(cannotConnect("refresh", err))
	}

	snapshot := Snapshot{
		Devices:   make(map[string]Record, len(devices)),
		Order:     make([]string, 0, len(devices)),
		UpdatedAt: p.now(),
	}
	for i, device := range devices {
		key := strconv.FormatInt(device.id, 10)
		if _, dup := snapshot.Devices[key]; !dup {
			snapshot.Order = append(snapshot.Order, key)
		}
		snapshot.Devices[key] = merged[i]
	}
	return snapshot, nil
}

func translateTickError(err error) error {
	if errors.Is(err, ErrInvalidAuth) {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
}

func tickResult(err error) string {
	if errors.Is(err, ErrAuthFailed) {
		return "auth_failed"
	}
	return "update_failed"
}

// cronLogger routes scheduler logs to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
