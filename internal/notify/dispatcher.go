package notify

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

const notifyTimeout = 10 * time.Second

// Delivery is one text addressed to one user.
type Delivery struct {
	UserID int64
	Text   string
}

// Report counts the outcome of a Deliver call.
type Report struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type job struct {
	ctx      context.Context
	delivery Delivery
	done     chan<- error
}

type recipientQueue struct {
	jobs     []job
	enqueued bool // waiting in the ready list
	busy     bool // a job for this recipient is with a worker
}

// Dispatcher sends notifications on a fixed set of workers. Recipients are
// served round-robin so a broadcast cannot starve a conversation, and each
// recipient has at most one delivery in flight, which keeps their
// notifications in submission order.
type Dispatcher struct {
	notifier Notifier
	workers  int
	logger   *slog.Logger

	jobs    chan job
	wake    chan struct{}
	idle    chan chan job
	stopped chan struct{}
	once    sync.Once

	mu        sync.Mutex
	queues    map[int64]*recipientQueue
	ready     *list.List // recipient ids with a dispatchable job
	positions map[int64]*list.Element
}

func NewDispatcher(notifier Notifier, workers, queueSize int, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		notifier:  notifier,
		workers:   workers,
		logger:    logger.With("component", "dispatcher"),
		jobs:      make(chan job, queueSize),
		wake:      make(chan struct{}, 1),
		idle:      make(chan chan job, workers),
		stopped:   make(chan struct{}),
		queues:    make(map[int64]*recipientQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
	}
}

// Start launches the workers and the scheduling loop. They stop when ctx ends.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		go d.worker(ctx, i)
	}
	go d.run(ctx)
}

// Deliver submits every delivery and waits for their outcomes. Failures are
// logged and counted, never returned.
func (d *Dispatcher) Deliver(ctx context.Context, deliveries []Delivery) Report {
	var report Report
	if len(deliveries) == 0 {
		return report
	}
	done := make(chan error, len(deliveries))
	submitted := 0
	for _, del := range deliveries {
		select {
		case d.jobs <- job{ctx: ctx, delivery: del, done: done}:
			submitted++
		case <-ctx.Done():
			report.Failed++
		case <-d.stopped:
			report.Failed++
		}
	}
	for i := 0; i < submitted; i++ {
		select {
		case err := <-done:
			if err != nil {
				report.Failed++
			} else {
				report.Sent++
			}
		case <-ctx.Done():
			report.Failed += submitted - i
			return report
		case <-d.stopped:
			report.Failed += submitted - i
			return report
		}
	}
	return report
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.once.Do(func() { close(d.stopped) })
	for {
		if d.dispatchOne(ctx) {
			continue
		}
		select {
		case j := <-d.jobs:
			d.enqueue(j)
		case <-d.wake:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) enqueue(j job) {
	userID := j.delivery.UserID

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[userID]
	if q == nil {
		q = &recipientQueue{}
		d.queues[userID] = q
	}
	q.jobs = append(q.jobs, j)
	if q.enqueued || q.busy {
		return
	}
	q.enqueued = true
	d.positions[userID] = d.ready.PushBack(userID)
}

// dispatchOne hands the front recipient's oldest job to an idle worker.
func (d *Dispatcher) dispatchOne(ctx context.Context) bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(int64)
	q := d.queues[userID]
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.enqueued = false
	q.busy = true
	d.ready.Remove(elem)
	delete(d.positions, userID)
	d.mu.Unlock()

	select {
	case workerChan := <-d.idle:
		workerChan <- j
	case <-ctx.Done():
		j.done <- ctx.Err()
	}
	return true
}

// finish releases the recipient so its next job becomes dispatchable.
func (d *Dispatcher) finish(userID int64) {
	d.mu.Lock()
	if q := d.queues[userID]; q != nil {
		q.busy = false
		if len(q.jobs) > 0 {
			q.enqueued = true
			d.positions[userID] = d.ready.PushBack(userID)
		} else {
			delete(d.queues, userID)
		}
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	jobChan := make(chan job, 1)
	for {
		select {
		case d.idle <- jobChan:
		case <-ctx.Done():
			return
		}
		select {
		case j := <-jobChan:
			d.execute(j, id)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) execute(j job, workerID int) {
	defer d.finish(j.delivery.UserID)
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}
	ctx, cancel := context.WithTimeout(j.ctx, notifyTimeout)
	err := d.notifier.Notify(ctx, j.delivery.UserID, j.delivery.Text)
	cancel()
	if err != nil {
		d.logger.Warn("notify failed", "user_id", j.delivery.UserID, "worker", workerID, "err", err)
	} else {
		d.logger.Debug("notified", "user_id", j.delivery.UserID, "worker", workerID)
	}
	j.done <- err
}
