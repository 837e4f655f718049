package worker_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/cvscreen/internal/evaluation"
	"github.com/kiranshivaraju/cvscreen/internal/queue"
	"github.com/kiranshivaraju/cvscreen/internal/store"
	"github.com/kiranshivaraju/cvscreen/internal/worker"
	"github.com/kiranshivaraju/cvscreen/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Enqueue(ctx context.Context, item queue.WorkItem) (string, error) {
	args := m.Called(ctx, item)
	return args.String(0), args.Error(1)
}

func (m *mockQueue) Reserve(ctx context.Context, wait time.Duration) (*queue.Delivery, error) {
	args := m.Called(ctx, wait)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Delivery), args.Error(1)
}

func (m *mockQueue) Complete(ctx context.Context, d *queue.Delivery) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockQueue) Fail(ctx context.Context, d *queue.Delivery, cause error, retryable bool) (queue.Outcome, error) {
	args := m.Called(ctx, d, cause, retryable)
	return args.Get(0).(queue.Outcome), args.Error(1)
}

func (m *mockQueue) Maintain(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockQueue) Failed(ctx context.Context, limit int) ([]queue.Envelope, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]queue.Envelope), args.Error(1)
}

func (m *mockQueue) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

var _ queue.Queue = (*mockQueue)(nil)

// memStore enforces the job state machine in memory.
type memStore struct {
	mu        sync.Mutex
	status    map[uuid.UUID]string
	summary   map[uuid.UUID]string
	attempts  map[uuid.UUID]int
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{
		status:   make(map[uuid.UUID]string),
		summary:  make(map[uuid.UUID]string),
		attempts: make(map[uuid.UUID]int),
	}
}

func (s *memStore) addJob() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.status[id] = models.JobStatusQueued
	return id
}

func (s *memStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	cur, ok := s.status[id]
	if !ok {
		return store.ErrNotFound
	}
	if cur == models.JobStatusCompleted {
		return store.ErrTerminalState
	}
	if status == models.JobStatusFailed && cur != models.JobStatusProcessing {
		return store.ErrInvalidTransition
	}
	s.status[id] = status
	if status == models.JobStatusProcessing {
		s.attempts[id]++
	}
	if u := store.ApplyJobUpdateOptions(opts...); u.ErrorMessage != nil {
		s.summary[id] = *u.ErrorMessage
	}
	return nil
}

func (s *memStore) complete(id uuid.UUID, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = models.JobStatusCompleted
	s.summary[id] = summary
}

func (s *memStore) get(id uuid.UUID) (status, summary string, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id], s.summary[id], s.attempts[id]
}

func (s *memStore) ListQueuedJobs(_ context.Context, _ time.Duration, _ int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, st := range s.status {
		if st == models.JobStatusQueued {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// stubPipeline runs fn, or completes the job through the store like the
// real orchestrator does.
type stubPipeline struct {
	mu    sync.Mutex
	calls int
	store *memStore
	fn    func(ctx context.Context, jobID uuid.UUID) error
}

func (p *stubPipeline) Run(ctx context.Context, jobID uuid.UUID) (*models.EvaluationData, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.fn != nil {
		if err := p.fn(ctx, jobID); err != nil {
			return nil, err
		}
	}
	data := &models.EvaluationData{CVMatchRate: 0.8, ProjectScore: 4, OverallSummary: "hire"}
	p.store.complete(jobID, data.OverallSummary)
	return data, nil
}

func (p *stubPipeline) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingCache struct {
	mu       sync.Mutex
	statuses []string
}

func (c *recordingCache) SetJobStatus(_ context.Context, _ uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, status)
	return nil
}

func delivery(jobID string) *queue.Delivery {
	return &queue.Delivery{Envelope: queue.Envelope{
		ID:          uuid.NewString(),
		Name:        queue.JobName,
		Data:        queue.WorkItem{JobID: jobID},
		MaxAttempts: 3,
		BackoffMs:   5000,
	}}
}

func causeIs(target error) any {
	return mock.MatchedBy(func(err error) bool { return errors.Is(err, target) })
}

// --- Process ---

func TestProcess_Success(t *testing.T) {
	st := newMemStore()
	id := st.addJob()
	q := new(mockQueue)
	c := &recordingCache{}
	d := delivery(id.String())
	q.On("Complete", mock.Anything, d).Return(nil).Once()

	worker.NewConsumer(q, st, &stubPipeline{store: st}, c, worker.Config{}).Process(context.Background(), d)

	q.AssertExpectations(t)
	status, _, attempts := st.get(id)
	assert.Equal(t, models.JobStatusCompleted, status)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, []string{models.JobStatusProcessing, models.JobStatusCompleted}, c.statuses)
}

func TestProcess_TransientFailureRecordedAndRetried(t *testing.T) {
	st := newMemStore()
	id := st.addJob()
	boom := errors.New("generate cv evaluation: model unavailable")
	q := new(mockQueue)
	d := delivery(id.String())
	q.On("Fail", mock.Anything, d, causeIs(boom), true).Return(queue.OutcomeRetryScheduled, nil).Once()

	c := &recordingCache{}
	p := &stubPipeline{store: st, fn: func(context.Context, uuid.UUID) error { return boom }}
	worker.NewConsumer(q, st, p, c, worker.Config{}).Process(context.Background(), d)

	q.AssertExpectations(t)
	q.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	status, summary, _ := st.get(id)
	assert.Equal(t, models.JobStatusFailed, status)
	assert.Equal(t, boom.Error(), summary)
	// Pollers keep seeing processing while a retry is pending.
	assert.Equal(t, []string{models.JobStatusProcessing, models.JobStatusProcessing}, c.statuses)
}

func TestProcess_PermanentFailureNotRetried(t *testing.T) {
	st := newMemStore()
	id := st.addJob()
	perm := fmt.Errorf("%w: job has no report document", evaluation.ErrPermanent)
	q := new(mockQueue)
	d := delivery(id.String())
	q.On("Fail", mock.Anything, d, causeIs(evaluation.ErrPermanent), false).Return(queue.OutcomeRetained, nil).Once()

	c := &recordingCache{}
	p := &stubPipeline{store: st, fn: func(context.Context, uuid.UUID) error { return perm }}
	worker.NewConsumer(q, st, p, c, worker.Config{}).Process(context.Background(), d)

	q.AssertExpectations(t)
	status, summary, _ := st.get(id)
	assert.Equal(t, models.JobStatusFailed, status)
	assert.Equal(t, perm.Error(), summary)
	assert.Equal(t, []string{models.JobStatusProcessing, models.JobStatusFailed}, c.statuses)
}

func TestProcess_QueueFailErrorPublishesFailed(t *testing.T) {
	st := newMemStore()
	id := st.addJob()
	boom := errors.New("generate summary: model unavailable")
	q := new(mockQueue)
	d := delivery(id.String())
	q.On("Fail", mock.Anything, d, causeIs(boom), true).
		Return(queue.OutcomeRetryScheduled, errors.New("redis: connection refused")).Once()

	c := &recordingCache{}
	p := &stubPipeline{store: st, fn: func(context.Context, uuid.UUID) error { return boom }}
	worker.NewConsumer(q, st, p, c, worker.Config{}).Process(context.Background(), d)

	q.AssertExpectations(t)
	status, _, _ := st.get(id)
	assert.Equal(t, models.JobStatusFailed, status)
	// The cache must agree with the store when the retry could not be scheduled.
	assert.Equal(t, []string{models.JobStatusProcessing, models.JobStatusFailed}, c.statuses)
}

func TestProcess_MalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		d    *queue.Delivery
	}{
		{"decode error", &queue.Delivery{DecodeErr: errors.New("invalid character")}},
		{"empty job id", delivery("")},
		{"not a uuid", delivery("job-123")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			q := new(mockQueue)
			q.On("Fail", mock.Anything, tt.d, mock.Anything, false).Return(queue.OutcomeRetained, nil).Once()
			p := &stubPipeline{store: st}

			worker.NewConsumer(q, st, p, nil, worker.Config{}).Process(context.Background(), tt.d)

			q.AssertExpectations(t)
			assert.Equal(t, 0, p.Calls())
		})
	}
}

func TestProcess_MissingJobIsPermanent(t *testing.T) {
	st := newMemStore()
	q := new(mockQueue)
	d := delivery(uuid.NewString())
	q.On("Fail", mock.Anything, d, causeIs(evaluation.ErrPermanent), false).Return(queue.OutcomeRetained, nil).Once()
	p := &stubPipeline{store: st}

	worker.NewConsumer(q, st, p, nil, worker.Config{}).Process(context.Background(), d)

	q.AssertExpectations(t)
	assert.Equal(t, 0, p.Calls())
}

func TestProcess_CompletedJobAcknowledgedWithoutWork(t *testing.T) {
	st := newMemStore()
	id := st.addJob()
	st.complete(id, "done")
	q := new(mockQueue)
	d := delivery(id.String())
	q.On("Complete", mock.Anything, d).Return(nil).Once()
	p := &stubPipeline{store: st}

	worker.NewConsumer(q, st, p, nil, worker.Config{}).Process(context.Background(), d)

	q.AssertExpectations(t)
	assert.Equal(t, 0, p.Calls())
	_, summary, _ := st.get(id)
	assert.Equal(t, "done", summary)
}

func TestProcess_ProcessingWriteFailureIsRetried(t *testing.T) {
	st := newMemStore()
	id := st.addJob()
	dbErr := errors.New("connection refused")
	st.updateErr = dbErr
	q := new(mockQueue)
	d := delivery(id.String())
	q.On("Fail", mock.Anything, d, causeIs(dbErr), true).Return(queue.OutcomeRetryScheduled, nil).Once()
	p := &stubPipeline{store: st}

	worker.NewConsumer(q, st, p, nil, worker.Config{}).Process(context.Background(), d)

	q.AssertExpectations(t)
	assert.Equal(t, 0, p.Calls())
}

func TestProcess_PanicBecomesTransientFailure(t *testing.T) {
	st := newMemStore()
	id := st.addJob()
	q := new(mockQueue)
	d := delivery(id.String())
	q.On("Fail", mock.Anything, d, mock.Anything, true).Return(queue.OutcomeRetryScheduled, nil).Once()

	p := &stubPipeline{store: st, fn: func(context.Context, uuid.UUID) error { panic("nil map") }}
	worker.NewConsumer(q, st, p, nil, worker.Config{}).Process(context.Background(), d)

	q.AssertExpectations(t)
	status, summary, _ := st.get(id)
	assert.Equal(t, models.JobStatusFailed, status)
	assert.Contains(t, summary, "panic")
}

func TestProcess_ConcurrentCompletionWinsOverFailure(t *testing.T) {
	st := newMemStore()
	id := st.addJob()
	q := new(mockQueue)
	d := delivery(id.String())
	q.On("Complete", mock.Anything, d).Return(nil).Once()

	p := &stubPipeline{store: st, fn: func(_ context.Context, jobID uuid.UUID) error {
		st.complete(jobID, "completed by duplicate delivery")
		return errors.New("late failure")
	}}
	worker.NewConsumer(q, st, p, nil, worker.Config{}).Process(context.Background(), d)

	q.AssertExpectations(t)
	status, summary, _ := st.get(id)
	assert.Equal(t, models.JobStatusCompleted, status)
	assert.Equal(t, "completed by duplicate delivery", summary)
}

func TestProcess_ShutdownLeavesItemInFlight(t *testing.T) {
	st := newMemStore()
	id := st.addJob()
	q := new(mockQueue)
	ctx, cancel := context.WithCancel(context.Background())

	p := &stubPipeline{store: st, fn: func(ctx context.Context, _ uuid.UUID) error {
		cancel()
		return ctx.Err()
	}}
	worker.NewConsumer(q, st, p, nil, worker.Config{}).Process(ctx, delivery(id.String()))

	q.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	q.AssertNotCalled(t, "Fail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	status, _, _ := st.get(id)
	assert.Equal(t, models.JobStatusProcessing, status)
}

// --- Run ---

func TestRun_StopsOnCancel(t *testing.T) {
	st := newMemStore()
	q := new(mockQueue)
	q.On("Reserve", mock.Anything, mock.Anything).Return(nil, queue.ErrNoItem).After(5 * time.Millisecond).Maybe()
	q.On("Maintain", mock.Anything).Return(nil).Maybe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- worker.NewConsumer(q, st, &stubPipeline{store: st}, nil,
			worker.Config{Concurrency: 2, PollWait: 10 * time.Millisecond, MaintainInterval: 10 * time.Millisecond}).Run(ctx)
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancellation")
	}
}

func TestRun_ProcessesReservedItems(t *testing.T) {
	st := newMemStore()
	id := st.addJob()
	d := delivery(id.String())
	q := new(mockQueue)
	q.On("Reserve", mock.Anything, mock.Anything).Return(d, nil).Once()
	q.On("Reserve", mock.Anything, mock.Anything).Return(nil, queue.ErrNoItem).After(5 * time.Millisecond).Maybe()
	q.On("Maintain", mock.Anything).Return(nil).Maybe()
	completed := make(chan struct{})
	q.On("Complete", mock.Anything, d).Return(nil).Once().Run(func(mock.Arguments) { close(completed) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.NewConsumer(q, st, &stubPipeline{store: st}, nil,
		worker.Config{PollWait: 10 * time.Millisecond}).Run(ctx)

	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("item was not processed")
	}
	status, _, _ := st.get(id)
	assert.Equal(t, models.JobStatusCompleted, status)
}

// --- ReplayQueued ---

func TestReplayQueued(t *testing.T) {
	st := newMemStore()
	a, b := st.addJob(), st.addJob()
	done := st.addJob()
	st.complete(done, "x")

	q := new(mockQueue)
	q.On("Enqueue", mock.Anything, queue.WorkItem{JobID: a.String()}).Return("e1", nil).Once()
	q.On("Enqueue", mock.Anything, queue.WorkItem{JobID: b.String()}).Return("e2", nil).Once()

	n, err := worker.ReplayQueued(context.Background(), st, q, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	q.AssertExpectations(t)
}

func TestReplayQueued_Disabled(t *testing.T) {
	q := new(mockQueue)
	n, err := worker.ReplayQueued(context.Background(), newMemStore(), q, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestReplayQueued_EnqueueError(t *testing.T) {
	st := newMemStore()
	st.addJob()
	q := new(mockQueue)
	q.On("Enqueue", mock.Anything, mock.Anything).Return("", errors.New("redis down"))

	_, err := worker.ReplayQueued(context.Background(), st, q, time.Minute)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "redis down"))
}
