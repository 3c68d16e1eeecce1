package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	ledgererrors "voter-ledger/errors"
	"voter-ledger/models"
)

// QueueProcessor records verification steps asynchronously on a fixed pool of workers
type QueueProcessor struct {
	service         *VerificationService
	stepCh          chan *QueuedStep
	processingWg    sync.WaitGroup
	shutdownCh      chan struct{}
	stopOnce        sync.Once
	mu              sync.RWMutex // guards stopped against concurrent enqueue
	stopped         bool
	workers         int
	processingDelay time.Duration // For benchmarking purposes
	logger          zerolog.Logger
}

// QueuedStep is a step request waiting for a worker
type QueuedStep struct {
	Ctx      context.Context
	Request  StepRequest
	ResultCh chan<- *ProcessingResult
}

// ProcessingResult contains the result of an asynchronous step
type ProcessingResult struct {
	Receipt *models.Receipt
	Err     error
}

// NewQueueProcessor creates a new queue processor
func NewQueueProcessor(service *VerificationService, queueSize, workers int, processingDelay time.Duration) *QueueProcessor {
	if workers < 1 {
		workers = 1
	}
	return &QueueProcessor{
		service:         service,
		stepCh:          make(chan *QueuedStep, queueSize),
		shutdownCh:      make(chan struct{}),
		workers:         workers,
		processingDelay: processingDelay,
		logger:          service.logger.With().Str("component", "step_queue").Logger(),
	}
}

// Start launches the workers
func (qp *QueueProcessor) Start() {
	for i := 0; i < qp.workers; i++ {
		qp.processingWg.Add(1)
		go qp.stepWorker(i)
	}
	qp.logger.Info().Int("workers", qp.workers).Int("capacity", cap(qp.stepCh)).Msg("step queue started")
}

// Stop gracefully shuts down the workers. Requests still buffered are
// answered with the context error of a cancelled shutdown.
func (qp *QueueProcessor) Stop() {
	qp.stopOnce.Do(func() {
		qp.mu.Lock()
		qp.stopped = true
		close(qp.shutdownCh)
		qp.mu.Unlock()
		qp.processingWg.Wait()

		for {
			select {
			case req := <-qp.stepCh:
				req.ResultCh <- &ProcessingResult{Err: context.Canceled}
				close(req.ResultCh)
			default:
				qp.service.metrics.SetQueueDepth(0)
				qp.logger.Info().Msg("step queue stopped")
				return
			}
		}
	})
}

// QueueStep adds a step to the processing queue. The returned channel yields
// exactly one result; a full queue answers immediately with QUEUE_FULL.
func (qp *QueueProcessor) QueueStep(ctx context.Context, req StepRequest) <-chan *ProcessingResult {
	resultCh := make(chan *ProcessingResult, 1)

	qp.mu.RLock()
	defer qp.mu.RUnlock()
	if qp.stopped {
		resultCh <- &ProcessingResult{Err: ledgererrors.New(ledgererrors.KindQueueFull, "step queue is stopped")}
		close(resultCh)
		return resultCh
	}

	select {
	case qp.stepCh <- &QueuedStep{Ctx: ctx, Request: req, ResultCh: resultCh}:
		qp.service.metrics.SetQueueDepth(len(qp.stepCh))
	default:
		qp.logger.Warn().Str("voter_id", req.VoterID).Msg("step queue is full")
		resultCh <- &ProcessingResult{Err: ledgererrors.New(ledgererrors.KindQueueFull, "step queue is full")}
		close(resultCh)
	}
	return resultCh
}

// Submit queues req and waits for its result
func (qp *QueueProcessor) Submit(ctx context.Context, req StepRequest) (*models.Receipt, error) {
	select {
	case result := <-qp.QueueStep(ctx, req):
		return result.Receipt, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BatchQueueSteps adds multiple step requests to the queue
// Useful for benchmarking
func (qp *QueueProcessor) BatchQueueSteps(ctx context.Context, requests []StepRequest) []<-chan *ProcessingResult {
	resultChannels := make([]<-chan *ProcessingResult, len(requests))
	for i, req := range requests {
		resultChannels[i] = qp.QueueStep(ctx, req)
	}
	return resultChannels
}

func (qp *QueueProcessor) stepWorker(id int) {
	defer qp.processingWg.Done()

	for {
		select {
		case <-qp.shutdownCh:
			return
		case req := <-qp.stepCh:
			qp.service.metrics.SetQueueDepth(len(qp.stepCh))

			// Add artificial delay for benchmarking if needed
			if qp.processingDelay > 0 {
				time.Sleep(qp.processingDelay)
			}

			var result ProcessingResult
			if err := req.Ctx.Err(); err != nil {
				result.Err = err
			} else {
				result.Receipt, result.Err = qp.service.RecordStep(req.Ctx, req.Request)
			}
			qp.logger.Debug().Int("worker", id).Str("voter_id", req.Request.VoterID).Msg("step processed")

			req.ResultCh <- &result
			close(req.ResultCh)
		}
	}
}
