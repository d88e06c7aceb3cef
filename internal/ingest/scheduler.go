package ingest

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/r3nzsec/irflow-timeline/internal/logging"
	"github.com/r3nzsec/irflow-timeline/internal/tabstore"
)

// EventKind labels scheduler broadcasts.
type EventKind string

const (
	EventQueued   EventKind = "queued"
	EventStarted  EventKind = "started"
	EventProgress EventKind = "progress"
	EventImported EventKind = "imported"
	EventError    EventKind = "error"
	EventBuilding EventKind = "building"
	EventReady    EventKind = "ready"
)

// Event is one scheduler broadcast. Queue carries the remaining queued
// paths on every enqueue/dequeue so the UI can render the backlog.
type Event struct {
	Kind     EventKind `json:"kind"`
	Path     string    `json:"path,omitempty"`
	TabID    string    `json:"tabId,omitempty"`
	TabName  string    `json:"tabName,omitempty"`
	Rows     int64     `json:"rows,omitempty"`
	Progress float64   `json:"progress,omitempty"`
	Error    string    `json:"error,omitempty"`
	Queue    []string  `json:"queue,omitempty"`
}

// Tuning holds the scheduler's knobs, lifted from the import config.
type Tuning struct {
	BatchRows    int
	FTSChunkRows int
	SchemaScan   int
}

type job struct {
	path string
	opts Options
}

// Scheduler serializes file imports against a single worker. Parallel
// imports are forbidden: one parser already saturates I/O, and two
// 30 GB artifacts in flight would exhaust memory. Index and FTS builds
// are deferred until the queue fully drains, then run strictly
// sequentially per tab.
type Scheduler struct {
	registry *tabstore.Registry
	tuning   Tuning
	log      *logging.Logger

	mu            sync.Mutex
	queue         []job
	pendingBuilds []string
	activeCancel  context.CancelFunc
	activePath    string
	stopped       bool

	wake chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewScheduler creates and starts the single import worker.
func NewScheduler(registry *tabstore.Registry, tuning Tuning) *Scheduler {
	if tuning.BatchRows <= 0 {
		tuning.BatchRows = 50000
	}
	if tuning.FTSChunkRows <= 0 {
		tuning.FTSChunkRows = 200000
	}
	s := &Scheduler{
		registry: registry,
		tuning:   tuning,
		log:      logging.GetLogger("ingest"),
		wake:     make(chan struct{}, 1),
		subs:     make(map[int]chan Event),
	}
	go s.run()
	return s
}

// Subscribe returns a buffered event channel and its cancel function.
// Slow subscribers lose events rather than blocking the worker.
func (s *Scheduler) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, 256)
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.subMu.Unlock()
	}
}

func (s *Scheduler) broadcast(ev Event) {
	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.subMu.Unlock()
}

// Enqueue appends a file to the FIFO import queue.
func (s *Scheduler) Enqueue(path string, opts Options) {
	s.mu.Lock()
	s.queue = append(s.queue, job{path: path, opts: opts})
	queued := s.queuedPaths()
	s.mu.Unlock()

	s.broadcast(Event{Kind: EventQueued, Path: path, Queue: queued})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Queue returns the paths still waiting, the active import first.
func (s *Scheduler) Queue() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuedPaths()
}

func (s *Scheduler) queuedPaths() []string {
	var out []string
	if s.activePath != "" {
		out = append(out, s.activePath)
	}
	for _, j := range s.queue {
		out = append(out, j.path)
	}
	return out
}

// CancelActive aborts the running import; its partial tab is destroyed.
func (s *Scheduler) CancelActive() {
	s.mu.Lock()
	cancel := s.activeCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop shuts the worker down after the current unit of work.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.activeCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		var next *job
		if len(s.queue) > 0 {
			next = &s.queue[0]
			s.queue = s.queue[1:]
			s.activePath = next.path
		}
		s.mu.Unlock()

		if next == nil {
			// Queue drained: now, and only now, run the deferred
			// index and FTS builds.
			s.runDeferredBuilds()
			<-s.wake
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.activeCancel = cancel
		s.mu.Unlock()

		s.importOne(ctx, *next)

		cancel()
		s.mu.Lock()
		s.activeCancel = nil
		s.activePath = ""
		s.mu.Unlock()

		// Brief pause between imports; hint the collector while no
		// parser holds buffers.
		time.Sleep(50 * time.Millisecond)
		runtime.GC()
	}
}

func (s *Scheduler) importOne(ctx context.Context, j job) {
	var tab *tabstore.Tab

	// A parser panic must not take the worker down; the partial tab is
	// destroyed, the failure reports like any other import error, and
	// the queue keeps draining.
	defer func() {
		if r := recover(); r != nil {
			s.failImport(j.path, tab, fmt.Errorf("internal error: %v", r))
		}
	}()

	name := filepath.Base(j.path)
	s.broadcast(Event{Kind: EventStarted, Path: j.path, Queue: s.Queue()})
	s.log.Info("import started", "path", j.path)

	opts := j.opts
	if opts.SchemaScan == 0 {
		opts.SchemaScan = s.tuning.SchemaScan
	}

	parser, err := Open(j.path, opts)
	if err != nil {
		s.failImport(j.path, nil, err)
		return
	}
	defer parser.Close()

	tab, err = s.registry.Create(name, j.path, parser.Headers())
	if err != nil {
		s.failImport(j.path, nil, err)
		return
	}

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			s.failImport(j.path, tab, fmt.Errorf("import cancelled"))
			return
		}

		batch, readErr := parser.ReadBatch(s.tuning.BatchRows)
		if readErr != nil && readErr != io.EOF {
			s.failImport(j.path, tab, readErr)
			return
		}
		if batch != nil && batch.Rows > 0 {
			if err := tab.InsertBatch(batch.Flat); err != nil {
				s.failImport(j.path, tab, err)
				return
			}
			total += int64(batch.Rows)
			s.broadcast(Event{
				Kind:     EventProgress,
				Path:     j.path,
				TabID:    tab.ID,
				TabName:  tab.Name,
				Rows:     total,
				Progress: parser.Progress(),
			})
		}
		if readErr == io.EOF {
			break
		}
	}

	if err := tab.Finalize(); err != nil {
		s.failImport(j.path, tab, err)
		return
	}

	s.mu.Lock()
	s.pendingBuilds = append(s.pendingBuilds, tab.ID)
	s.mu.Unlock()

	s.broadcast(Event{
		Kind:    EventImported,
		Path:    j.path,
		TabID:   tab.ID,
		TabName: tab.Name,
		Rows:    total,
		Queue:   s.Queue(),
	})
	s.log.Info("import complete", "path", j.path, "tab", tab.ID, "rows", total)
}

// failImport destroys the partially populated tab and emits the error.
func (s *Scheduler) failImport(path string, tab *tabstore.Tab, err error) {
	if tab != nil {
		if closeErr := s.registry.Close(tab.ID); closeErr != nil && closeErr != tabstore.ErrTabNotFound {
			s.log.Warn("partial tab cleanup failed", "tab", tab.ID, "error", closeErr)
		}
	}
	s.log.LogError("import", err, "path", path)
	s.broadcast(Event{Kind: EventError, Path: path, Error: err.Error(), Queue: s.Queue()})
}

// runDeferredBuilds builds indexes then FTS for every pending tab,
// strictly sequentially. Interleaving builds across tabs would spike
// memory; interleaving units within a tab is what the yield is for.
func (s *Scheduler) runDeferredBuilds() {
	s.mu.Lock()
	pending := s.pendingBuilds
	s.pendingBuilds = nil
	s.mu.Unlock()

	// Yield returns the store's single connection to waiting queries
	// between units of work.
	yield := func() {
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}

	for _, id := range pending {
		tab, err := s.registry.Get(id)
		if err != nil {
			// Tab closed while queued for builds.
			continue
		}

		s.broadcast(Event{Kind: EventBuilding, TabID: id, TabName: tab.Name})
		if err := tab.BuildSortIndexes(context.Background(), yield); err != nil {
			s.log.LogError("index build", err, "tab", id)
			continue
		}
		if err := tab.BuildFTS(context.Background(), s.tuning.FTSChunkRows, yield); err != nil {
			s.log.LogError("fts build", err, "tab", id)
			continue
		}
		s.broadcast(Event{Kind: EventReady, TabID: id, TabName: tab.Name})
	}
}
