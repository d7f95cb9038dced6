package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"nudgebot/internal/models"
)

var ErrClosed = errors.New("dispatcher closed")

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	JobTimeout  time.Duration
}

type orgQueue struct {
	jobs     []models.NotificationJob
	enqueued bool
}

// Dispatcher queues jobs per organization and hands them to the pool
// round-robin, so one busy tenant cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan models.NotificationJob // interface for outer jobs get in the dispatcher

	mu        sync.Mutex
	queues    map[int64]*orgQueue // job queue for each organization
	ready     *list.List          // LRU queue storing organization IDs
	positions map[int64]*list.Element

	quit      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig, handler Handler) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, handler, cfg.JobTimeout)

	d := &Dispatcher{
		queues:    make(map[int64]*orgQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		pool:      pool,
		JobQueue:  make(chan models.NotificationJob, cfg.QueueSize),
		quit:      make(chan struct{}),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit hands a due job to the dispatcher.
func (d *Dispatcher) Submit(ctx context.Context, job models.NotificationJob) error {
	select {
	case <-d.quit:
		return ErrClosed
	default:
	}
	select {
	case d.JobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.quit:
		return ErrClosed
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the organization in the front of LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue: // force congestion
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue: // non-congestion
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

// CancelOrganization drops queued, not yet running jobs of one organization.
func (d *Dispatcher) CancelOrganization(orgID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.queues, orgID)
	if elem, ok := d.positions[orgID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, orgID)
	}
}

// Pending reports jobs queued but not yet handed to a worker.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += len(q.jobs)
	}
	return n + len(d.JobQueue)
}

func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		d.pool.close()
	})
}

func (d *Dispatcher) enqueueJob(job models.NotificationJob) {
	orgID := job.OrganizationID

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[orgID]
	if q == nil {
		q = &orgQueue{}
		d.queues[orgID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		// organization already enqueued, skip
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(orgID)
	d.positions[orgID] = elem
}

// dispatchOne get first organization in LRU and dispatch its job
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	orgID := elem.Value.(int64)
	q := d.queues[orgID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		// last job of this organization, it leaves the queue
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, orgID)
		delete(d.queues, orgID)
	} else {
		// get to the back of queue
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		return false
	}
	debugLog("[dispatcher] assign job", "job_id", job.ID, "kind", job.Kind, "org_id", orgID, "worker", d.pool.workerID(workerChan))
	select {
	case workerChan <- Job{Type: Run, Task: job}:
	case <-d.quit:
		return false
	}
	return true
}
