// Package journal keeps an informational, append-only record of engine
// notifications. It is bounded and rate limited: under load it drops
// records rather than slowing the engine. It is not a durable log.
package journal

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/time/rate"

	"yellorn/internal/observability"
	"yellorn/internal/universe"
)

// Config holds journal limits.
type Config struct {
	Path          string // JSONL output; a .zst suffix enables zstd. Empty keeps records in memory only.
	BufferSize    int    // pending records before the oldest are dropped
	MaxPerSec     int    // global record rate
	MaxPerAgent   int    // per-agent record rate
	BatchSize     int
	FlushInterval time.Duration
	// UpdateEvery journals every Nth universe:update; 0 skips them.
	UpdateEvery int
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		BufferSize:    1024,
		MaxPerSec:     10000,
		MaxPerAgent:   100,
		BatchSize:     64,
		FlushInterval: 100 * time.Millisecond,
		UpdateEvery:   60,
	}
}

const limiterIdle = 5 * time.Minute

// Record is one journal line.
type Record struct {
	Seq       uint64    `json:"seq"`
	Topic     string    `json:"topic"`
	Tick      uint64    `json:"tick"`
	Timestamp time.Time `json:"ts"`
	AgentID   string    `json:"agentId,omitempty"`
	Agents    int       `json:"agents,omitempty"`
}

type agentLimiter struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64
}

// Journal buffers records in a ring and writes them in batches from a
// single writer goroutine.
type Journal struct {
	cfg Config

	mu      sync.Mutex
	ring    []Record
	head    uint64 // next sequence to assign
	tail    uint64 // next sequence to write
	limiter *rate.Limiter
	agents  sync.Map // agent id -> *agentLimiter

	out     *os.File
	buf     *bufio.Writer
	zw      *zstd.Encoder
	running atomic.Bool
	stop    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	total   atomic.Uint64
	dropped atomic.Uint64
	written atomic.Uint64
}

// New creates a stopped journal.
func New(cfg Config) *Journal {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.MaxPerSec <= 0 {
		cfg.MaxPerSec = def.MaxPerSec
	}
	if cfg.MaxPerAgent <= 0 {
		cfg.MaxPerAgent = def.MaxPerAgent
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &Journal{
		cfg:     cfg,
		ring:    make([]Record, cfg.BufferSize),
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxPerSec), burst(cfg.MaxPerSec)),
		stop:    make(chan struct{}),
	}
}

func burst(perSec int) int {
	if b := perSec / 10; b > 0 {
		return b
	}
	return 1
}

// Start opens the output file and starts the writer.
func (j *Journal) Start() error {
	if j.running.Load() {
		return nil
	}

	if j.cfg.Path != "" {
		f, err := os.OpenFile(j.cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		j.out = f
		var w io.Writer = f
		if strings.HasSuffix(j.cfg.Path, ".zst") {
			zw, err := zstd.NewWriter(f)
			if err != nil {
				f.Close()
				return err
			}
			j.zw = zw
			w = zw
		}
		j.buf = bufio.NewWriter(w)
	}

	j.running.Store(true)
	j.wg.Add(2)
	go j.writerLoop()
	go j.cleanupLoop()

	log.Printf("📊 Journal started (%s)", displayPath(j.cfg.Path))
	return nil
}

func displayPath(p string) string {
	if p == "" {
		return "memory only"
	}
	return p
}

// Stop flushes every pending record and closes the output.
func (j *Journal) Stop() {
	j.once.Do(func() {
		j.running.Store(false)
		close(j.stop)
		j.wg.Wait()

		if j.buf != nil {
			if err := j.buf.Flush(); err != nil {
				log.Printf("⚠️ Journal flush failed: %v", err)
			}
		}
		if j.zw != nil {
			if err := j.zw.Close(); err != nil {
				log.Printf("⚠️ Journal compressor close failed: %v", err)
			}
		}
		if j.out != nil {
			j.out.Close()
		}
	})
}

// Append queues r. It returns false when the journal is stopped or the
// record is rate limited. A full ring drops its oldest pending record.
func (j *Journal) Append(r Record) bool {
	accepted := j.append(r)
	observability.RecordJournal(accepted)
	return accepted
}

func (j *Journal) append(r Record) bool {
	if !j.running.Load() {
		return false
	}
	if !j.limiter.Allow() {
		j.dropped.Add(1)
		return false
	}
	if r.AgentID != "" && !j.agentLimiter(r.AgentID).Allow() {
		j.dropped.Add(1)
		return false
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	size := uint64(len(j.ring))
	if j.head-j.tail >= size {
		j.tail++
		j.dropped.Add(1)
	}
	j.head++
	r.Seq = j.head
	j.ring[(j.head-1)%size] = r
	j.total.Add(1)
	return true
}

func (j *Journal) agentLimiter(id string) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := j.agents.Load(id); ok {
		e := v.(*agentLimiter)
		e.lastUsed.Store(now)
		return e.limiter
	}
	e := &agentLimiter{limiter: rate.NewLimiter(rate.Limit(j.cfg.MaxPerAgent), burst(j.cfg.MaxPerAgent))}
	e.lastUsed.Store(now)
	actual, _ := j.agents.LoadOrStore(id, e)
	return actual.(*agentLimiter).limiter
}

// Subscribe attaches the journal to every bus topic.
func (j *Journal) Subscribe(bus *universe.Bus) {
	bus.Subscribe(j.HandleNotification)
}

// HandleNotification converts a notification into a record.
func (j *Journal) HandleNotification(n universe.Notification) {
	r := Record{
		Topic:     string(n.Topic),
		Tick:      n.Tick,
		Timestamp: n.Timestamp.UTC(),
		AgentID:   n.AgentID,
	}
	if n.Topic == universe.TopicUniverseUpdate {
		if j.cfg.UpdateEvery <= 0 || n.Tick%uint64(j.cfg.UpdateEvery) != 0 {
			return
		}
		if n.State != nil {
			r.Agents = len(n.State.Agents)
		}
	}
	j.Append(r)
}

func (j *Journal) writerLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, j.cfg.BatchSize)
	for {
		select {
		case <-j.stop:
			for {
				batch = j.collect(batch[:0])
				if len(batch) == 0 {
					return
				}
				j.write(batch)
			}
		case <-ticker.C:
			batch = j.collect(batch[:0])
			if len(batch) > 0 {
				j.write(batch)
			}
		}
	}
}

func (j *Journal) cleanupLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case now := <-ticker.C:
			j.cleanup(now)
		}
	}
}

// cleanup forgets agent limiters idle since before now-limiterIdle.
func (j *Journal) cleanup(now time.Time) {
	cutoff := now.Add(-limiterIdle).UnixNano()
	j.agents.Range(func(key, value any) bool {
		if value.(*agentLimiter).lastUsed.Load() < cutoff {
			j.agents.Delete(key)
		}
		return true
	})
}

func (j *Journal) collect(batch []Record) []Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	size := uint64(len(j.ring))
	for j.tail < j.head && len(batch) < cap(batch) {
		batch = append(batch, j.ring[j.tail%size])
		j.tail++
	}
	return batch
}

func (j *Journal) write(batch []Record) {
	j.written.Add(uint64(len(batch)))
	if j.buf == nil {
		return
	}
	enc := json.NewEncoder(j.buf)
	for _, r := range batch {
		if err := enc.Encode(r); err != nil {
			log.Printf("⚠️ Journal write failed: %v", err)
			return
		}
	}
	if err := j.buf.Flush(); err != nil {
		log.Printf("⚠️ Journal flush failed: %v", err)
	}
}

// Stats is a point-in-time view of the journal counters.
type Stats struct {
	Total   uint64 `json:"total"`
	Dropped uint64 `json:"dropped"`
	Written uint64 `json:"written"`
	Pending uint64 `json:"pending"`
	Running bool   `json:"running"`
}

// Stats returns the journal counters.
func (j *Journal) Stats() Stats {
	j.mu.Lock()
	pending := j.head - j.tail
	j.mu.Unlock()

	return Stats{
		Total:   j.total.Load(),
		Dropped: j.dropped.Load(),
		Written: j.written.Load(),
		Pending: pending,
		Running: j.running.Load(),
	}
}
