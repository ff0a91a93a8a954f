package test

import (
	"context"
	"sync"
	"time"

	"inviqa/layer-hook-relay/hook"
)

type MockDispatcher struct {
	mu       sync.Mutex
	errs     map[string]error
	panics   map[string]bool
	delay    time.Duration
	jobs     []hook.Job
	inFlight int
	maxSeen  int
}

func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{
		errs:   map[string]error{},
		panics: map[string]bool{},
	}
}

// FailFeature makes every dispatch of the given feature ID return err.
func (d *MockDispatcher) FailFeature(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[id] = err
}

func (d *MockDispatcher) PanicOnFeature(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panics[id] = true
}

func (d *MockDispatcher) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

func (d *MockDispatcher) Dispatch(ctx context.Context, job hook.Job) error {
	d.mu.Lock()
	d.jobs = append(d.jobs, job)
	d.inFlight++
	if d.inFlight > d.maxSeen {
		d.maxSeen = d.inFlight
	}
	delay, err, panics := d.delay, d.errs[job.FeatureID()], d.panics[job.FeatureID()]
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
	}()

	if panics {
		panic("dispatcher exploded")
	}

	time.Sleep(delay)
	return err
}

func (d *MockDispatcher) Jobs() []hook.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]hook.Job(nil), d.jobs...)
}

func (d *MockDispatcher) DispatchCount() int {
	return len(d.Jobs())
}

// MaxConcurrency is the highest number of simultaneous Dispatch calls seen.
func (d *MockDispatcher) MaxConcurrency() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxSeen
}
