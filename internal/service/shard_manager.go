package service

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hmcelik/aegis-moderation/internal/domain/queue"
)

// JobProcessor consumes one message job. A returned error requeues the job
// with backoff until the retry budget is spent, then dead-letters it.
type JobProcessor interface {
	Process(ctx context.Context, job queue.MessageJob) error
}

// ShardManagerConfig configures the sharded queue.
type ShardManagerConfig struct {
	// PartitionCount is the number of independent shards (1..64).
	PartitionCount int
	// Concurrency is the total worker count across all shards. Each shard
	// runs floor(Concurrency/PartitionCount) workers; the division must
	// leave at least one worker per shard.
	Concurrency int
	// MaxConcurrencyPerShard optionally caps workers per shard.
	MaxConcurrencyPerShard int
	// HighWatermark is the per-shard ready-queue depth above which
	// PublishMessage applies pushback.
	HighWatermark int
	// PublishWait bounds how long a publisher blocks under backpressure
	// before receiving queue.ErrBackpressure.
	PublishWait time.Duration
	// MaxJobRetries is how many times a failed job is requeued before it
	// is dead-lettered.
	MaxJobRetries int
	// RetryBaseDelay and RetryMaxDelay bound the exponential requeue backoff.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// ShardRate limits jobs per second per shard; zero disables limiting.
	ShardRate float64
	// ShardBurst is the per-shard rate limiter burst; defaults to 1.
	ShardBurst int
	// ShutdownGrace is how long Shutdown waits for in-flight work to drain
	// before force-stopping workers.
	ShutdownGrace time.Duration
}

// DefaultShardManagerConfig returns the shipped queue settings.
func DefaultShardManagerConfig() ShardManagerConfig {
	return ShardManagerConfig{
		PartitionCount: 4,
		Concurrency:    16,
		HighWatermark:  1000,
		PublishWait:    2 * time.Second,
		MaxJobRetries:  3,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  30 * time.Second,
		ShutdownGrace:  10 * time.Second,
	}
}

// Validate rejects configurations that would starve a shard.
func (c ShardManagerConfig) Validate() error {
	if c.PartitionCount < 1 {
		return fmt.Errorf("partitionCount must be >= 1, got %d", c.PartitionCount)
	}
	if c.PartitionCount > queue.MaxPartitions {
		return fmt.Errorf("partitionCount must be <= %d, got %d", queue.MaxPartitions, c.PartitionCount)
	}
	if c.Concurrency < c.PartitionCount {
		return fmt.Errorf("concurrency (%d) must be >= partitionCount (%d): every shard needs a worker",
			c.Concurrency, c.PartitionCount)
	}
	perShard := c.Concurrency / c.PartitionCount
	if c.MaxConcurrencyPerShard != 0 && c.MaxConcurrencyPerShard < perShard {
		return fmt.Errorf("maxConcurrencyPerShard (%d) must be >= concurrency/partitionCount (%d)",
			c.MaxConcurrencyPerShard, perShard)
	}
	if c.HighWatermark < 1 {
		return fmt.Errorf("highWatermark must be >= 1, got %d", c.HighWatermark)
	}
	return nil
}

// workersPerShard returns the effective per-shard worker count.
func (c ShardManagerConfig) workersPerShard() int {
	k := c.Concurrency / c.PartitionCount
	if k < 1 {
		k = 1
	}
	if c.MaxConcurrencyPerShard > 0 && k > c.MaxConcurrencyPerShard {
		k = c.MaxConcurrencyPerShard
	}
	return k
}

// queuedJob is a job with its queue bookkeeping.
type queuedJob struct {
	job      queue.MessageJob
	seq      uint64 // FIFO tiebreak within equal priority
	attempts int
	heapIdx  int
	inHeap   bool
}

// jobHeap orders by priority descending, then seq ascending (FIFO).
type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}
func (h *jobHeap) Push(x any) {
	qj := x.(*queuedJob)
	qj.heapIdx = len(*h)
	*h = append(*h, qj)
}
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	qj := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return qj
}

// shard is one independent partition: ordered ready queue plus worker pool.
type shard struct {
	index int

	mu    sync.Mutex
	ready jobHeap
	// jobs holds every non-terminal job routed here, keyed by job ID.
	// Publish idempotency checks this map.
	jobs map[string]*queuedJob

	wake    chan struct{} // signaled on enqueue
	space   chan struct{} // signaled on dequeue for backpressured publishers
	limiter *rate.Limiter

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
}

func (s *shard) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// ShardManager owns N partitions, each with an independent worker pool, and
// routes jobs by a stable hash of the chat ID. A chat is pinned to exactly
// one shard, so per-chat ordering holds without extra locking and one
// high-volume chat cannot stall the others.
type ShardManager struct {
	cfg       ShardManagerConfig
	logger    *slog.Logger
	processor JobProcessor
	shards    []*shard

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopped   atomic.Bool
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	dlMu        sync.Mutex
	deadLetters []queue.DeadLetter
}

// NewShardManager validates the configuration and creates the manager.
// Workers do not run until Start.
func NewShardManager(cfg ShardManagerConfig, processor JobProcessor, logger *slog.Logger) (*ShardManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("shard manager config: %w", err)
	}
	if processor == nil {
		return nil, fmt.Errorf("shard manager requires a job processor")
	}
	if cfg.PublishWait <= 0 {
		cfg.PublishWait = DefaultShardManagerConfig().PublishWait
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultShardManagerConfig().RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultShardManagerConfig().RetryMaxDelay
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShardManagerConfig().ShutdownGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &ShardManager{
		cfg:       cfg,
		logger:    logger,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}

	m.shards = make([]*shard, cfg.PartitionCount)
	for i := range m.shards {
		s := &shard{
			index:  i,
			jobs:   make(map[string]*queuedJob),
			wake:   make(chan struct{}, 1),
			space:  make(chan struct{}, 1),
			timers: make(map[*time.Timer]struct{}),
		}
		if cfg.ShardRate > 0 {
			burst := cfg.ShardBurst
			if burst < 1 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(cfg.ShardRate), burst)
		}
		m.shards[i] = s
	}
	return m, nil
}

// Start launches the per-shard worker pools.
func (m *ShardManager) Start() {
	k := m.cfg.workersPerShard()
	for _, s := range m.shards {
		for w := 0; w < k; w++ {
			m.wg.Add(1)
			go m.worker(s)
		}
	}
	m.logger.Info("shard manager started",
		"partitions", m.cfg.PartitionCount,
		"workers_per_shard", k)
}

// PublishMessage validates and enqueues a job, returning its job ID.
// A job published with zero priority gets one derived from content
// heuristics; an explicit caller priority is kept as-is.
// Re-publishing the same (chatId, messageId) while the first copy is not
// terminal is idempotent: the original job ID is returned and nothing is
// enqueued. Under backpressure the call blocks up to PublishWait, then
// returns queue.ErrBackpressure.
func (m *ShardManager) PublishMessage(ctx context.Context, job queue.MessageJob) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	if m.stopped.Load() {
		return "", queue.ErrShuttingDown
	}
	if job.Priority == 0 {
		job.Priority = queue.DerivePriority(job)
	}

	id := job.ID()
	s := m.shards[queue.Shard(job.ChatKey(), len(m.shards))]

	deadline := time.Now().Add(m.cfg.PublishWait)
	for {
		s.mu.Lock()
		if existing, ok := s.jobs[id]; ok {
			s.mu.Unlock()
			return existing.job.ID(), nil
		}
		if len(s.ready) < m.cfg.HighWatermark {
			qj := &queuedJob{job: job, seq: nextSeq()}
			s.jobs[id] = qj
			heap.Push(&s.ready, qj)
			qj.inHeap = true
			s.mu.Unlock()
			s.signal(s.wake)
			return id, nil
		}
		s.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return "", fmt.Errorf("shard %d: %w", s.index, queue.ErrBackpressure)
		}
		timer := time.NewTimer(minDuration(wait, 50*time.Millisecond))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-m.ctx.Done():
			timer.Stop()
			return "", queue.ErrShuttingDown
		case <-s.space:
			timer.Stop()
		case <-timer.C:
		}
	}
}

var seqCounter atomic.Uint64

func nextSeq() uint64 { return seqCounter.Add(1) }

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// worker dequeues and processes jobs for one shard until shutdown.
func (m *ShardManager) worker(s *shard) {
	defer m.wg.Done()
	for {
		qj, ok := m.dequeue(s)
		if !ok {
			return
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(m.ctx); err != nil {
				m.requeueFront(s, qj)
				return
			}
		}

		m.active.Add(1)
		err := m.processor.Process(m.ctx, qj.job)
		m.active.Add(-1)

		if err == nil {
			m.finish(s, qj, true, "")
			continue
		}
		qj.attempts++
		if qj.attempts > m.cfg.MaxJobRetries {
			m.logger.Error("job dead-lettered",
				"job_id", qj.job.ID(),
				"shard", s.index,
				"attempts", qj.attempts,
				"error", err)
			m.deadLetter(qj, err)
			m.finish(s, qj, false, err.Error())
			continue
		}
		delay := retryDelay(qj.attempts, m.cfg.RetryBaseDelay, m.cfg.RetryMaxDelay)
		m.logger.Warn("job failed, requeueing",
			"job_id", qj.job.ID(),
			"shard", s.index,
			"attempt", qj.attempts,
			"retry_in", delay,
			"error", err)
		m.requeueAfter(s, qj, delay)
	}
}

// dequeue blocks until a job is ready or shutdown. The returned job stays in
// the shard's job index (it is still non-terminal) but leaves the heap.
func (m *ShardManager) dequeue(s *shard) (*queuedJob, bool) {
	for {
		s.mu.Lock()
		if len(s.ready) > 0 {
			qj := heap.Pop(&s.ready).(*queuedJob)
			qj.inHeap = false
			s.mu.Unlock()
			s.signal(s.space)
			return qj, true
		}
		s.mu.Unlock()

		select {
		case <-m.ctx.Done():
			return nil, false
		case <-s.wake:
		}
	}
}

// finish removes a job from the shard index and updates terminal counters.
func (m *ShardManager) finish(s *shard, qj *queuedJob, success bool, _ string) {
	s.mu.Lock()
	delete(s.jobs, qj.job.ID())
	s.mu.Unlock()
	if success {
		m.completed.Add(1)
	} else {
		m.failed.Add(1)
	}
}

// requeueFront puts a job back without burning an attempt (shutdown path).
func (m *ShardManager) requeueFront(s *shard, qj *queuedJob) {
	s.mu.Lock()
	if !qj.inHeap {
		heap.Push(&s.ready, qj)
		qj.inHeap = true
	}
	s.mu.Unlock()
	s.signal(s.wake)
}

// requeueAfter re-enqueues a failed job once its backoff delay elapses.
func (m *ShardManager) requeueAfter(s *shard, qj *queuedJob, delay time.Duration) {
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.timersMu.Lock()
		delete(s.timers, timer)
		s.timersMu.Unlock()

		if m.ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		if _, still := s.jobs[qj.job.ID()]; still && !qj.inHeap {
			heap.Push(&s.ready, qj)
			qj.inHeap = true
		}
		s.mu.Unlock()
		s.signal(s.wake)
	})
	s.timersMu.Lock()
	s.timers[timer] = struct{}{}
	s.timersMu.Unlock()
}

// retryDelay computes the exponential requeue backoff, capped.
func retryDelay(attempt int, base, max time.Duration) time.Duration {
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// deadLetter records a job that spent its retry budget.
func (m *ShardManager) deadLetter(qj *queuedJob, err error) {
	m.dlMu.Lock()
	defer m.dlMu.Unlock()
	m.deadLetters = append(m.deadLetters, queue.DeadLetter{
		Job:      qj.job,
		Attempts: qj.attempts,
		LastErr:  err.Error(),
		FailedAt: time.Now(),
	})
}

// DeadLetters returns a snapshot of dead-lettered jobs.
func (m *ShardManager) DeadLetters() []queue.DeadLetter {
	m.dlMu.Lock()
	defer m.dlMu.Unlock()
	out := make([]queue.DeadLetter, len(m.deadLetters))
	copy(out, m.deadLetters)
	return out
}

// GetQueueStats returns queue occupancy across all shards.
func (m *ShardManager) GetQueueStats() queue.Stats {
	var waiting int64
	for _, s := range m.shards {
		s.mu.Lock()
		waiting += int64(len(s.ready))
		s.mu.Unlock()
	}
	return queue.Stats{
		Waiting:   waiting,
		Active:    m.active.Load(),
		Completed: m.completed.Load(),
		Failed:    m.failed.Load(),
	}
}

// ShardDepths returns the ready-queue depth per shard.
func (m *ShardManager) ShardDepths() []int {
	depths := make([]int, len(m.shards))
	for i, s := range m.shards {
		s.mu.Lock()
		depths[i] = len(s.ready)
		s.mu.Unlock()
	}
	return depths
}

// FairnessScore measures routing balance over an offered chat-id sample:
// 1 - maxDeviation/mean of per-shard assignment counts. 1.0 is perfectly
// even; values near 0 indicate heavy skew.
func (m *ShardManager) FairnessScore(chatKeys []string) float64 {
	if len(chatKeys) == 0 {
		return 1.0
	}
	counts := make([]float64, len(m.shards))
	for _, key := range chatKeys {
		counts[queue.Shard(key, len(m.shards))]++
	}
	mean := float64(len(chatKeys)) / float64(len(m.shards))
	var maxDev float64
	for _, c := range counts {
		maxDev = math.Max(maxDev, math.Abs(c-mean))
	}
	if mean == 0 {
		return 1.0
	}
	score := 1.0 - maxDev/mean
	if score < 0 {
		return 0
	}
	return score
}

// Shutdown stops accepting new jobs, drains in-flight work within the grace
// period, then force-stops workers and pending retry timers.
func (m *ShardManager) Shutdown(ctx context.Context) error {
	m.stopped.Store(true)

	grace := time.NewTimer(m.cfg.ShutdownGrace)
	defer grace.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

drain:
	for {
		if m.drained() {
			break
		}
		select {
		case <-ctx.Done():
			break drain
		case <-grace.C:
			break drain
		case <-tick.C:
		}
	}

	m.cancel()
	for _, s := range m.shards {
		s.timersMu.Lock()
		for t := range s.timers {
			t.Stop()
		}
		s.timers = make(map[*time.Timer]struct{})
		s.timersMu.Unlock()
	}
	m.wg.Wait()
	m.logger.Info("shard manager stopped",
		"completed", m.completed.Load(),
		"failed", m.failed.Load())
	return ctx.Err()
}

// drained reports whether no work is queued or in flight.
func (m *ShardManager) drained() bool {
	if m.active.Load() != 0 {
		return false
	}
	for _, s := range m.shards {
		s.mu.Lock()
		n := len(s.jobs)
		s.mu.Unlock()
		if n != 0 {
			return false
		}
	}
	return true
}
