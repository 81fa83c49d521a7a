package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"plantops/config"
	"plantops/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchWriterService buffers audit records and flushes them to the remote
// mirror when the batch is full or the batch timeout elapses.
type BatchWriterService struct {
	writer       mirrorWriter
	logger       *zap.Logger
	buffer       []mirrorRecord
	bufferMutex  sync.Mutex
	incoming     chan mirrorRecord
	flushTimer   *time.Timer
	maxBatchSize int
	batchTimeout time.Duration
	retryBackoff time.Duration
	shutdownChan chan bool
}

// NewBatchWriterService creates a new batch writer service
func NewBatchWriterService(cfg *config.Config, firebaseService *FirebaseService, logger *zap.Logger) *BatchWriterService {
	return newBatchWriter(firebaseService, cfg.FirebaseBatchSize, time.Duration(cfg.FirebaseBatchTimeout)*time.Second, logger)
}

func newBatchWriter(writer mirrorWriter, maxBatchSize int, batchTimeout time.Duration, logger *zap.Logger) *BatchWriterService {
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	if batchTimeout <= 0 {
		batchTimeout = 30 * time.Second
	}
	return &BatchWriterService{
		writer:       writer,
		logger:       logger,
		buffer:       make([]mirrorRecord, 0, maxBatchSize),
		incoming:     make(chan mirrorRecord, maxBatchSize*4),
		maxBatchSize: maxBatchSize,
		batchTimeout: batchTimeout,
		retryBackoff: time.Second,
		shutdownChan: make(chan bool, 1),
	}
}

// RecordReading queues a reading for the next flush.
func (bw *BatchWriterService) RecordReading(ctx context.Context, reading *models.SensorReading) error {
	key := reading.Timestamp.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	return bw.enqueue(ctx, mirrorRecord{Path: "readings/" + key, Payload: reading})
}

// RecordDecision queues a decision record for the next flush.
func (bw *BatchWriterService) RecordDecision(ctx context.Context, record *models.DecisionRecord) error {
	return bw.enqueue(ctx, mirrorRecord{Path: "decisions/" + record.ID, Payload: record})
}

func (bw *BatchWriterService) enqueue(ctx context.Context, rec mirrorRecord) error {
	select {
	case bw.incoming <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("mirror queue full, dropping %s", rec.Path)
	}
}

// Start runs the batching loop until ctx is done, then flushes what is left.
func (bw *BatchWriterService) Start(ctx context.Context) {
	bw.logger.Info("Starting batch writer service",
		zap.Int("max_batch_size", bw.maxBatchSize),
		zap.Duration("batch_timeout", bw.batchTimeout))

	bw.flushTimer = time.NewTimer(bw.batchTimeout)
	defer bw.flushTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.logger.Info("Batch writer received shutdown signal")
			bw.drainIncoming()
			bw.flushBuffer(context.WithoutCancel(ctx))
			bw.shutdownChan <- true
			return

		case rec := <-bw.incoming:
			bw.bufferMutex.Lock()
			bw.buffer = append(bw.buffer, rec)
			currentSize := len(bw.buffer)
			bw.bufferMutex.Unlock()

			bw.logger.Debug("Added record to buffer",
				zap.String("path", rec.Path),
				zap.Int("buffer_size", currentSize))

			if currentSize >= bw.maxBatchSize {
				bw.logger.Info("Buffer full, flushing to mirror",
					zap.Int("buffer_size", currentSize))

				if !bw.flushTimer.Stop() {
					select {
					case <-bw.flushTimer.C:
					default:
					}
				}

				bw.flushBuffer(ctx)
				bw.flushTimer.Reset(bw.batchTimeout)
			}

		case <-bw.flushTimer.C:
			if bw.GetBufferSize() > 0 {
				bw.logger.Info("Batch timeout reached, flushing to mirror",
					zap.Int("buffer_size", bw.GetBufferSize()))
				bw.flushBuffer(ctx)
			}
			bw.flushTimer.Reset(bw.batchTimeout)
		}
	}
}

func (bw *BatchWriterService) drainIncoming() {
	bw.bufferMutex.Lock()
	defer bw.bufferMutex.Unlock()
	for {
		select {
		case rec := <-bw.incoming:
			bw.buffer = append(bw.buffer, rec)
		default:
			return
		}
	}
}

// flushBuffer writes the current buffer with retry and clears it
func (bw *BatchWriterService) flushBuffer(ctx context.Context) {
	bw.bufferMutex.Lock()

	if len(bw.buffer) == 0 {
		bw.bufferMutex.Unlock()
		return
	}

	batch := make([]mirrorRecord, len(bw.buffer))
	copy(batch, bw.buffer)
	bw.buffer = bw.buffer[:0]

	bw.bufferMutex.Unlock()

	maxRetries := 3
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = bw.writer.WriteBatch(ctx, batch)
		if err == nil {
			bw.logger.Info("Flushed batch to mirror",
				zap.Int("batch_size", len(batch)))
			return
		}

		bw.logger.Error("Failed to flush batch to mirror",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * bw.retryBackoff)
		}
	}

	bw.logger.Error("Failed to flush batch after all retries, records dropped",
		zap.Int("batch_size", len(batch)),
		zap.Error(err))
}

// WaitForShutdown waits for the batch writer to complete shutdown
func (bw *BatchWriterService) WaitForShutdown(timeout time.Duration) bool {
	select {
	case <-bw.shutdownChan:
		return true
	case <-time.After(timeout):
		return false
	}
}

// GetBufferSize returns the current buffer size (for monitoring)
func (bw *BatchWriterService) GetBufferSize() int {
	bw.bufferMutex.Lock()
	defer bw.bufferMutex.Unlock()
	return len(bw.buffer)
}
