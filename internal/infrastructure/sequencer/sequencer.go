package sequencer

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
	"github.com/hilthontt/visper-relay/internal/infrastructure/metrics"
)

const DefaultShards = 32

type roomQueue struct {
	tasks      []QueuedTask
	processing bool
	halt       *RoomProcessingHalt
}

type shard struct {
	mu    sync.Mutex
	rooms map[string]*roomQueue
}

// Sequencer runs tasks one at a time per room, in enqueue order. Rooms are
// independent: each active room has its own goroutine and rooms only share
// a shard lock for bookkeeping.
type Sequencer struct {
	processor Processor
	shards    []*shard
	logger    logging.Logger
	metrics   *metrics.Metrics
	onHalt    func(*RoomProcessingHalt)

	stopping atomic.Bool
	halted   atomic.Int64
	wg       sync.WaitGroup
}

type Option func(*Sequencer)

func WithShards(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.shards = make([]*shard, n)
		}
	}
}

// WithHaltHandler is called outside any lock whenever a room halts.
func WithHaltHandler(fn func(*RoomProcessingHalt)) Option {
	return func(s *Sequencer) { s.onHalt = fn }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Sequencer) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sequencer) { s.metrics = m }
}

func New(p Processor, opts ...Option) *Sequencer {
	s := &Sequencer{
		processor: p,
		shards:    make([]*shard, DefaultShards),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &shard{rooms: make(map[string]*roomQueue)}
	}
	return s
}

func (s *Sequencer) shard(roomID string) *shard {
	hasher := fnv.New32a()
	hasher.Write([]byte(roomID))
	return s.shards[hasher.Sum32()%uint32(len(s.shards))]
}

// Enqueue appends task to the room's queue and starts a processor when the
// room is idle. It never waits for processing.
func (s *Sequencer) Enqueue(roomID string, task Task) error {
	if roomID == "" {
		return ErrInvalidRoom
	}

	sh := s.shard(roomID)
	sh.mu.Lock()
	if s.stopping.Load() {
		sh.mu.Unlock()
		return ErrClosed
	}

	q, ok := sh.rooms[roomID]
	if !ok {
		q = &roomQueue{}
		sh.rooms[roomID] = q
	}
	q.tasks = append(q.tasks, QueuedTask{RoomID: roomID, Payload: task, EnqueuedAt: time.Now()})
	pending := len(q.tasks)

	start := !q.processing && q.halt == nil
	if start {
		q.processing = true
		s.wg.Add(1)
	}
	sh.mu.Unlock()

	s.metrics.TaskEnqueued()
	s.logger.Debug(logging.Sequencer, logging.Enqueue, "task enqueued", map[logging.ExtraKey]any{
		logging.RoomID:   roomID,
		logging.TaskKind: task.TaskName(),
		logging.Pending:  pending,
	})

	if start {
		go s.run(roomID, sh, q)
	}
	return nil
}

func (s *Sequencer) run(roomID string, sh *shard, q *roomQueue) {
	defer s.wg.Done()

	for {
		sh.mu.Lock()
		if len(q.tasks) == 0 {
			q.processing = false
			delete(sh.rooms, roomID)
			sh.mu.Unlock()
			return
		}
		if s.stopping.Load() {
			q.processing = false
			sh.mu.Unlock()
			return
		}
		head := q.tasks[0]
		sh.mu.Unlock()

		start := time.Now()
		err := s.process(head)
		s.metrics.TaskProcessed(time.Since(start), err)

		sh.mu.Lock()
		if err != nil {
			halt := &RoomProcessingHalt{RoomID: roomID, Task: head, Pending: len(q.tasks), Err: err}
			q.halt = halt
			q.processing = false
			sh.mu.Unlock()

			s.reportHalt(halt)
			return
		}
		q.tasks[0] = QueuedTask{}
		q.tasks = q.tasks[1:]
		sh.mu.Unlock()
	}
}

// process runs one task. In-flight tasks are never cancelled, so the
// context is detached from any caller.
func (s *Sequencer) process(task QueuedTask) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panic: %v", rec)
		}
	}()
	return s.processor.Process(context.Background(), task)
}

func (s *Sequencer) reportHalt(halt *RoomProcessingHalt) {
	n := s.halted.Add(1)
	s.metrics.SetHaltedRooms(int(n))

	s.logger.Error(logging.Sequencer, logging.Halt, "room queue halted", map[logging.ExtraKey]any{
		logging.RoomID:       halt.RoomID,
		logging.TaskKind:     halt.Task.Payload.TaskName(),
		logging.Pending:      halt.Pending,
		logging.ErrorMessage: halt.Err.Error(),
	})

	if s.onHalt != nil {
		s.onHalt(halt)
	}
}

// Resume restarts a halted room from its failed task.
func (s *Sequencer) Resume(roomID string) error {
	sh := s.shard(roomID)
	sh.mu.Lock()
	if s.stopping.Load() {
		sh.mu.Unlock()
		return ErrClosed
	}
	q, ok := sh.rooms[roomID]
	if !ok || q.halt == nil {
		sh.mu.Unlock()
		return ErrNotHalted
	}
	q.halt = nil
	q.processing = true
	pending := len(q.tasks)
	s.wg.Add(1)
	sh.mu.Unlock()

	n := s.halted.Add(-1)
	s.metrics.SetHaltedRooms(int(n))
	s.logger.Info(logging.Sequencer, logging.Process, "room queue resumed", map[logging.ExtraKey]any{
		logging.RoomID:  roomID,
		logging.Pending: pending,
	})

	go s.run(roomID, sh, q)
	return nil
}

// Len reports how many tasks are queued for roomID, including the one in
// flight.
func (s *Sequencer) Len(roomID string) int {
	sh := s.shard(roomID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if q, ok := sh.rooms[roomID]; ok {
		return len(q.tasks)
	}
	return 0
}

// Rooms reports how many rooms currently hold a queue.
func (s *Sequencer) Rooms() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.rooms)
		sh.mu.Unlock()
	}
	return n
}

func (s *Sequencer) Halted() []*RoomProcessingHalt {
	var out []*RoomProcessingHalt
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, q := range sh.rooms {
			if q.halt != nil {
				out = append(out, q.halt)
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// Wait blocks until every room processor is idle. Callers must not enqueue
// concurrently with Wait.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}

// Close stops accepting tasks and waits for in-flight tasks. Tasks still
// queued behind them are dropped.
func (s *Sequencer) Close() error {
	s.stopping.Store(true)
	// Enqueue and Resume check stopping under the shard lock, so after this
	// pass no new processor can be added to wg.
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.mu.Unlock()
	}
	s.wg.Wait()

	dropped := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, q := range sh.rooms {
			dropped += len(q.tasks)
		}
		sh.mu.Unlock()
	}
	if dropped > 0 {
		s.logger.Warn(logging.Sequencer, logging.Shutdown, "sequencer closed with queued tasks", map[logging.ExtraKey]any{
			logging.Pending: dropped,
		})
	}
	return nil
}
