package pool

import (
	"github.com/pkg/errors"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/tendermint/tendermint/libs/clist"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
)

var (
	ErrPoolNotRunning = errors.New("callback pool is not running")
)

// Task is one unit of work submitted to the pool.
type Task func()

// Pool runs submitted tasks on a worker goroutine, outside any caller
// lock. Tasks execute in submission order.
type Pool struct {
	service.BaseService

	queue *clist.CList

	// throughput instrumentation
	submitted gometrics.Meter
	taskTimer gometrics.Timer
}

// NewPool returns a stopped pool. Call Start before submitting.
func NewPool(name string) *Pool {
	p := &Pool{
		queue:     clist.New(),
		submitted: gometrics.NewMeter(),
		taskTimer: gometrics.NewTimer(),
	}
	p.BaseService = *service.NewBaseService(nil, name, p)
	return p
}

func (p *Pool) SetLogger(logger log.Logger) {
	p.BaseService.Logger = logger
}

func (p *Pool) OnStart() error {
	go p.runRoutine()
	return nil
}

func (p *Pool) OnStop() {
	p.submitted.Stop()
	p.taskTimer.Stop()
}

// Submit enqueues a task. It never blocks and never runs the task on the
// caller's goroutine.
func (p *Pool) Submit(task Task) error {
	if !p.IsRunning() {
		return ErrPoolNotRunning
	}
	p.queue.PushBack(task)
	p.submitted.Mark(1)
	return nil
}

// Len returns the number of tasks waiting to run.
func (p *Pool) Len() int {
	return p.queue.Len()
}

// SubmittedRate1 exposes the 1-minute moving rate of submissions.
func (p *Pool) SubmittedRate1() float64 {
	return p.submitted.Rate1()
}

func (p *Pool) runRoutine() {
	for {
		select {
		case <-p.Quit():
			return
		default:
		}

		front := p.queue.Front()
		if front == nil {
			select {
			case <-p.queue.WaitChan():
				continue
			case <-p.Quit():
				return
			}
		}

		task := front.Value.(Task)
		p.taskTimer.Time(task)

		p.queue.Remove(front)
		front.DetachPrev()
	}
}
