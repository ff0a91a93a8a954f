package test

import (
	"context"
	"errors"
	"sync"
	"time"

	"inviqa/layer-hook-relay/queue"

	"github.com/google/uuid"
)

type MockRepository struct {
	sync.RWMutex
	getBatchCallCount   int
	mockQueueSize       uint
	mockTotalSize       uint
	batchesToReturn     []*queue.Batch
	batchesCommitted    []*queue.Batch
	committed           chan *queue.Batch
	returnError         bool
	deletedRowsCount    int64
	deletedOlderThan    time.Time
	returnNoEventsError bool
	released            []uuid.UUID
	failRelease         bool
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		batchesToReturn: []*queue.Batch{},
		committed:       make(chan *queue.Batch, 100),
	}
}

func (mr *MockRepository) GetBatch() (*queue.Batch, error) {
	mr.Lock()
	defer mr.Unlock()
	mr.getBatchCallCount++

	if mr.returnNoEventsError {
		return nil, queue.ErrNoEvents
	}

	if mr.returnError {
		return nil, errors.New("oops")
	}

	if len(mr.batchesToReturn) == 0 {
		return nil, queue.ErrNoEvents
	}

	var b *queue.Batch
	b, mr.batchesToReturn = mr.batchesToReturn[0], mr.batchesToReturn[1:]

	return b, nil
}

func (mr *MockRepository) CommitBatch(_ context.Context, batch *queue.Batch) {
	mr.Lock()
	mr.batchesCommitted = append(mr.batchesCommitted, batch)
	mr.Unlock()

	mr.committed <- batch
}

// WaitForCommit returns the next committed batch, or nil after the timeout.
func (mr *MockRepository) WaitForCommit(timeout time.Duration) *queue.Batch {
	select {
	case b := <-mr.committed:
		return b
	case <-time.After(timeout):
		return nil
	}
}

func (mr *MockRepository) ReleaseBatch(batchId uuid.UUID) error {
	mr.Lock()
	defer mr.Unlock()

	if mr.failRelease {
		return errors.New("oops")
	}
	mr.released = append(mr.released, batchId)
	return nil
}

func (mr *MockRepository) Released() []uuid.UUID {
	mr.RLock()
	defer mr.RUnlock()
	return append([]uuid.UUID(nil), mr.released...)
}

func (mr *MockRepository) FailRelease() {
	mr.Lock()
	defer mr.Unlock()
	mr.failRelease = true
}

func (mr *MockRepository) AddBatch(batch *queue.Batch) {
	mr.Lock()
	defer mr.Unlock()
	mr.batchesToReturn = append(mr.batchesToReturn, batch)
}

func (mr *MockRepository) DeleteCompleted(olderThan time.Time) (int64, error) {
	mr.Lock()
	defer mr.Unlock()
	mr.deletedOlderThan = olderThan

	if mr.returnError {
		return 0, errors.New("oops")
	}
	return mr.deletedRowsCount, nil
}

func (mr *MockRepository) DeletedOlderThan() time.Time {
	mr.RLock()
	defer mr.RUnlock()
	return mr.deletedOlderThan
}

func (mr *MockRepository) GetQueueSize() (uint, error) {
	mr.RLock()
	defer mr.RUnlock()
	if mr.returnError {
		return 0, errors.New("oops")
	}

	return mr.mockQueueSize, nil
}

func (mr *MockRepository) GetTotalSize() (uint, error) {
	mr.RLock()
	defer mr.RUnlock()
	if mr.returnError {
		return 0, errors.New("oops")
	}

	return mr.mockTotalSize, nil
}

func (mr *MockRepository) GetBatchCallCount() int {
	mr.RLock()
	defer mr.RUnlock()
	return mr.getBatchCallCount
}

func (mr *MockRepository) ReturnErrors() {
	mr.Lock()
	defer mr.Unlock()
	mr.returnError = true
}

func (mr *MockRepository) ReturnNoEventsError() {
	mr.Lock()
	defer mr.Unlock()
	mr.returnNoEventsError = true
}

func (mr *MockRepository) SetQueueSize(size uint) {
	mr.Lock()
	defer mr.Unlock()
	mr.mockQueueSize = size
}

func (mr *MockRepository) SetTotalSize(size uint) {
	mr.Lock()
	defer mr.Unlock()
	mr.mockTotalSize = size
}

func (mr *MockRepository) SetDeletedRowsCount(c int64) {
	mr.Lock()
	defer mr.Unlock()
	mr.deletedRowsCount = c
}
