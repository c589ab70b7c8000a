package audit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	EventSessionInitialized    = "session_initialized"
	EventSessionRefreshed      = "session_refreshed"
	EventAnswersCarriedForward = "answers_carried_forward"
	EventStepSaved             = "step_saved"
	EventConsultationCompleted = "consultation_completed"
	EventShippingDispatched    = "shipping_dispatched"
	EventShippingFailed        = "shipping_failed"
	EventShippingQueued        = "shipping_queued"
)

type Record struct {
	Timestamp time.Time `json:"timestamp"`
	OrderID   string    `json:"order_id"`
	SessionID string    `json:"session_id,omitempty"`
	Event     string    `json:"event"`
	OldState  string    `json:"old_state,omitempty"`
	NewState  string    `json:"new_state,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Sink accepts audit records without blocking the caller.
type Sink interface {
	Log(record Record)
}

type discard struct{}

func (discard) Log(Record) {}

// Discard drops every record.
var Discard Sink = discard{}

type PoolConfig struct {
	BatchSize   int
	Timeout     time.Duration
	ChannelSize int
}

type Processor interface {
	Process(ctx context.Context, batch []Record) error
}

type WorkerPool struct {
	inputCh    chan Record
	processors []Processor
	batchSize  int
	timeout    time.Duration
	log        logrus.FieldLogger

	wg sync.WaitGroup
}

func NewWorkerPool(cfg PoolConfig, log logrus.FieldLogger, processors ...Processor) *WorkerPool {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	return &WorkerPool{
		inputCh:    make(chan Record, cfg.ChannelSize),
		processors: processors,
		batchSize:  cfg.BatchSize,
		timeout:    cfg.Timeout,
		log:        log,
	}
}

func (p *WorkerPool) Start(ctx context.Context, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker(ctx)
		}()
	}
}

func (p *WorkerPool) worker(ctx context.Context) {
	var batch []Record
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			batch = p.drain(batch)
			if len(batch) > 0 {
				p.processBatch(batch)
			}
			return
		case rec := <-p.inputCh:
			batch = append(batch, rec)
			if len(batch) >= p.batchSize {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				p.processBatch(batch)
				batch = nil
				timer.Reset(p.timeout)
			}
		case <-timer.C:
			if len(batch) > 0 {
				p.processBatch(batch)
				batch = nil
			}
			timer.Reset(p.timeout)
		}
	}
}

// drain takes whatever is still buffered so shutdown does not lose records.
func (p *WorkerPool) drain(batch []Record) []Record {
	for {
		select {
		case rec := <-p.inputCh:
			batch = append(batch, rec)
		default:
			return batch
		}
	}
}

func (p *WorkerPool) processBatch(batch []Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, proc := range p.processors {
		if err := proc.Process(ctx, batch); err != nil {
			p.log.WithError(err).WithField("batch", len(batch)).Error("audit batch failed")
		}
	}
}

func (p *WorkerPool) Log(record Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	select {
	case p.inputCh <- record:
	default:
		p.log.WithField("event", record.Event).Warn("audit channel full, dropping record")
	}
}

func (p *WorkerPool) Shutdown(cancelFunc context.CancelFunc) {
	cancelFunc()
	p.wg.Wait()
}
