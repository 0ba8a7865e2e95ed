package publish

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/confession-pipeline/internal/compose"
	"github.com/fpang/confession-pipeline/internal/ids"
)

// fakeRemote records published tempIds and fails according to script.
type fakeRemote struct {
	mu        sync.Mutex
	script    map[string][]error // errors returned on successive attempts
	calls     map[string]int
	published map[string]int
	retryAts  map[string][]time.Time
	gate      chan struct{} // when set, Publish blocks until it receives

	inFlight, maxInFlight atomic.Int32
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		script:    map[string][]error{},
		calls:     map[string]int{},
		published: map[string]int{},
		retryAts:  map[string][]time.Time{},
	}
}

func (f *fakeRemote) Publish(ctx context.Context, job Job) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	attempt := f.calls[job.TempID]
	f.calls[job.TempID]++
	f.retryAts[job.TempID] = append(f.retryAts[job.TempID], job.NextRetryAt)
	if script := f.script[job.TempID]; attempt < len(script) && script[attempt] != nil {
		return script[attempt]
	}
	f.published[job.TempID]++
	return nil
}

func (f *fakeRemote) publishedCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[id]
}

func (f *fakeRemote) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

var errTransient = errors.New("connection reset by peer")

func openTestStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "queue.db")
	}
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fastOptions() Options {
	return Options{
		Concurrency: 2,
		MaxAttempts: 5,
		Backoff:     Backoff{Base: time.Millisecond, Max: 8 * time.Millisecond},
	}
}

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForStatus(t *testing.T, q *Queue, id string, want Status) Report {
	t.Helper()
	var last Report
	waitFor(t, string(want), func() bool {
		r, err := q.Status(context.Background(), id)
		last = r
		return err == nil && r.Status == want
	})
	return last
}

var sampleResult = compose.ProcessingResult{OutputURI: "file:///tmp/abc.mp4", ContentHash: "abc"}

// Two transient failures then success.
func TestQueue_RetriesThenSucceeds(t *testing.T) {
	remote := newFakeRemote()
	q := NewQueue(openTestStore(t, ""), remote, nil, fastOptions())
	id := ids.NewTempID()
	remote.script[id] = []error{errTransient, errTransient}

	if _, err := q.EnqueueWithID(context.Background(), id, sampleResult, "user-1"); err != nil {
		t.Fatal(err)
	}
	startQueue(t, q)

	r := waitForStatus(t, q, id, StatusSucceeded)
	if r.AttemptCount != 3 {
		t.Errorf("expected 3 attempts, got %d", r.AttemptCount)
	}
	if got := remote.publishedCount(id); got != 1 {
		t.Errorf("expected exactly one remote artifact, got %d", got)
	}
	job, _ := q.store.Get(context.Background(), id)
	if job != nil {
		t.Error("succeeded job must leave the job table")
	}
}

func TestQueue_RetryTimesStrictlyIncrease(t *testing.T) {
	remote := newFakeRemote()
	opts := fastOptions()
	opts.MaxAttempts = 6
	q := NewQueue(openTestStore(t, ""), remote, nil, opts)
	id := ids.NewTempID()
	remote.script[id] = []error{errTransient, errTransient, errTransient, errTransient, errTransient}

	q.EnqueueWithID(context.Background(), id, sampleResult, "u")
	startQueue(t, q)
	waitForStatus(t, q, id, StatusSucceeded)

	remote.mu.Lock()
	times := remote.retryAts[id]
	remote.mu.Unlock()
	if len(times) != 6 {
		t.Fatalf("expected 6 attempts, got %d", len(times))
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			t.Errorf("nextRetryAt not strictly increasing at %d: %v then %v", i, times[i-1], times[i])
		}
	}
}

func TestQueue_EnqueueIsIdempotent(t *testing.T) {
	remote := newFakeRemote()
	q := NewQueue(openTestStore(t, ""), remote, nil, fastOptions())
	ctx := context.Background()
	id := ids.NewTempID()

	first, err := q.EnqueueWithID(ctx, id, sampleResult, "u")
	if err != nil || !first {
		t.Fatalf("first enqueue: %v %v", first, err)
	}
	again, err := q.EnqueueWithID(ctx, id, sampleResult, "u")
	if err != nil || again {
		t.Fatalf("second enqueue should be a no-op: %v %v", again, err)
	}

	startQueue(t, q)
	waitForStatus(t, q, id, StatusSucceeded)

	after, err := q.EnqueueWithID(ctx, id, sampleResult, "u")
	if err != nil || after {
		t.Fatalf("enqueue after success should be a no-op: %v %v", after, err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := remote.publishedCount(id); got != 1 {
		t.Errorf("expected one remote artifact, got %d", got)
	}
}

func TestQueue_RejectsInvalidTempID(t *testing.T) {
	q := NewQueue(openTestStore(t, ""), newFakeRemote(), nil, fastOptions())
	if _, err := q.EnqueueWithID(context.Background(), "not-a-uuid", sampleResult, "u"); err == nil {
		t.Error("expected invalid tempId error")
	}
}

func TestQueue_PermanentFailureDeadLetters(t *testing.T) {
	remote := newFakeRemote()
	var outcomes []Outcome
	var mu sync.Mutex
	opts := fastOptions()
	opts.Observer = ObserverFunc(func(_ context.Context, o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	})
	q := NewQueue(openTestStore(t, ""), remote, nil, opts)
	ctx := context.Background()
	id := ids.NewTempID()
	remote.script[id] = []error{Permanent(errors.New("content rejected"))}

	q.EnqueueWithID(ctx, id, sampleResult, "u")
	startQueue(t, q)
	r := waitForStatus(t, q, id, StatusFailed)
	if r.AttemptCount != 1 || r.LastError == "" {
		t.Errorf("unexpected report %+v", r)
	}

	dead, err := q.ListDeadLetters(ctx)
	if err != nil || len(dead) != 1 || dead[0].TempID != id {
		t.Fatalf("expected one dead letter, got %v %v", dead, err)
	}

	if err := q.RetryDeadLetter(ctx, id); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, q, id, StatusSucceeded)

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 2 || outcomes[0].Status != StatusFailed || outcomes[1].Status != StatusSucceeded {
		t.Errorf("unexpected outcomes %+v", outcomes)
	}
}

func TestQueue_AttemptsExhaustedDeadLetters(t *testing.T) {
	remote := newFakeRemote()
	opts := fastOptions()
	opts.MaxAttempts = 3
	q := NewQueue(openTestStore(t, ""), remote, nil, opts)
	id := ids.NewTempID()
	remote.script[id] = []error{errTransient, errTransient, errTransient, errTransient}

	q.EnqueueWithID(context.Background(), id, sampleResult, "u")
	startQueue(t, q)
	r := waitForStatus(t, q, id, StatusFailed)
	if r.AttemptCount != 3 {
		t.Errorf("expected 3 attempts, got %d", r.AttemptCount)
	}

	if err := q.DiscardDeadLetter(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, q, id, StatusCancelled)
	if err := q.DiscardDeadLetter(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second discard should be ErrNotFound, got %v", err)
	}
}

func TestQueue_CancelPending(t *testing.T) {
	q := NewQueue(openTestStore(t, ""), newFakeRemote(), nil, fastOptions())
	ctx := context.Background()
	id := ids.NewTempID()
	q.EnqueueWithID(ctx, id, sampleResult, "u")

	status, err := q.Cancel(ctx, id)
	if err != nil || status != StatusCancelled {
		t.Fatalf("cancel: %v %v", status, err)
	}
	r, err := q.Status(ctx, id)
	if err != nil || r.Status != StatusCancelled {
		t.Errorf("status after cancel: %+v %v", r, err)
	}
	if ok, _ := q.EnqueueWithID(ctx, id, sampleResult, "u"); ok {
		t.Error("cancelled tempId must not be enqueued again")
	}
	if _, err := q.Cancel(ctx, ids.NewTempID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown tempId should be ErrNotFound, got %v", err)
	}
}

func TestQueue_CancelInFlight(t *testing.T) {
	for _, tc := range []struct {
		name    string
		failure error
		want    Status
	}{
		{"attempt fails", errTransient, StatusCancelled},
		{"attempt succeeds", nil, StatusSucceeded},
	} {
		t.Run(tc.name, func(t *testing.T) {
			remote := newFakeRemote()
			remote.gate = make(chan struct{})
			q := NewQueue(openTestStore(t, ""), remote, nil, fastOptions())
			ctx := context.Background()
			id := ids.NewTempID()
			remote.script[id] = []error{tc.failure}

			q.EnqueueWithID(ctx, id, sampleResult, "u")
			startQueue(t, q)
			waitForStatus(t, q, id, StatusInFlight)

			status, err := q.Cancel(ctx, id)
			if err != nil || status != StatusInFlight {
				t.Fatalf("cancel in flight: %v %v", status, err)
			}
			r, _ := q.Status(ctx, id)
			if !r.CancelRequested {
				t.Error("cancel should be recorded on the job")
			}

			close(remote.gate)
			waitForStatus(t, q, id, tc.want)
			if got := remote.callCount(id); got != 1 {
				t.Errorf("expected exactly one attempt, got %d", got)
			}
		})
	}
}

func TestQueue_SuspendsWhileOffline(t *testing.T) {
	remote := newFakeRemote()
	sw := NewSwitch(false)
	q := NewQueue(openTestStore(t, ""), remote, sw, fastOptions())
	id := ids.NewTempID()
	q.EnqueueWithID(context.Background(), id, sampleResult, "u")
	startQueue(t, q)

	time.Sleep(30 * time.Millisecond)
	if got := remote.callCount(id); got != 0 {
		t.Fatalf("no attempts expected while offline, got %d", got)
	}

	sw.Set(true)
	waitForStatus(t, q, id, StatusSucceeded)
}

func TestQueue_BoundedConcurrency(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	q := NewQueue(openTestStore(t, ""), remote, nil, fastOptions())
	ctx := context.Background()

	var tempIDs []string
	for range 6 {
		id, err := q.Enqueue(ctx, sampleResult, "u")
		if err != nil {
			t.Fatal(err)
		}
		tempIDs = append(tempIDs, id)
	}
	startQueue(t, q)

	waitFor(t, "two attempts in flight", func() bool { return remote.inFlight.Load() == 2 })
	time.Sleep(20 * time.Millisecond)
	close(remote.gate)

	for _, id := range tempIDs {
		waitForStatus(t, q, id, StatusSucceeded)
	}
	if m := remote.maxInFlight.Load(); m > 2 {
		t.Errorf("concurrency limit exceeded: %d in flight", m)
	}
}

func TestQueue_RecoversInFlightAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()
	id := ids.NewTempID()

	first, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	NewQueue(first, newFakeRemote(), nil, fastOptions()).EnqueueWithID(ctx, id, sampleResult, "u")
	if job, err := first.ClaimNext(ctx, time.Now()); err != nil || job == nil {
		t.Fatalf("claim: %v %v", job, err)
	}
	first.Close() // simulated crash mid-attempt

	remote := newFakeRemote()
	q := NewQueue(openTestStore(t, path), remote, nil, fastOptions())
	startQueue(t, q)
	waitForStatus(t, q, id, StatusSucceeded)
	if got := remote.publishedCount(id); got != 1 {
		t.Errorf("expected one publish after recovery, got %d", got)
	}
}

// cancelOnSettle requests cancellation after the attempt ended but before
// its outcome is recorded.
type cancelOnSettle struct {
	*SQLiteStore
	once   sync.Once
	status Status
	err    error
}

func (s *cancelOnSettle) Settle(ctx context.Context, tempID string, to Status, attempts int, next time.Time, lastErr string, now time.Time) (Status, error) {
	s.once.Do(func() {
		s.status, s.err = s.RequestCancel(ctx, tempID, now)
	})
	return s.SQLiteStore.Settle(ctx, tempID, to, attempts, next, lastErr, now)
}

func TestQueue_CancelBeforeOutcomeRecordedIsHonoured(t *testing.T) {
	store := &cancelOnSettle{SQLiteStore: openTestStore(t, "")}
	remote := newFakeRemote()
	q := NewQueue(store, remote, nil, fastOptions())
	ctx := context.Background()
	id := ids.NewTempID()
	remote.script[id] = []error{errTransient, nil}

	q.EnqueueWithID(ctx, id, sampleResult, "u")
	startQueue(t, q)
	waitForStatus(t, q, id, StatusCancelled)

	if store.err != nil || store.status != StatusInFlight {
		t.Fatalf("cancel during attempt: %v %v", store.status, store.err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := remote.callCount(id); got != 1 {
		t.Errorf("cancelled job attempted %d times, want 1", got)
	}
	if got := remote.publishedCount(id); got != 0 {
		t.Errorf("cancelled job published %d times", got)
	}
}

func TestSQLiteStore_SettleHonoursCancelRequest(t *testing.T) {
	s := openTestStore(t, "")
	ctx := context.Background()
	now := time.Now()
	id := ids.NewTempID()
	NewQueue(s, newFakeRemote(), nil, fastOptions()).EnqueueWithID(ctx, id, sampleResult, "u")

	if _, err := s.ClaimNext(ctx, now); err != nil {
		t.Fatal(err)
	}
	if status, err := s.RequestCancel(ctx, id, now); err != nil || status != StatusInFlight {
		t.Fatalf("request cancel: %v %v", status, err)
	}
	status, err := s.Settle(ctx, id, StatusPending, 1, now, "boom", now)
	if err != nil || status != StatusCancelled {
		t.Fatalf("settle = %v %v, want Cancelled", status, err)
	}
	if job, _ := s.ClaimNext(ctx, now.Add(time.Hour)); job != nil {
		t.Errorf("cancelled job was claimed again: %+v", job)
	}
	if _, err := s.Settle(ctx, id, StatusPending, 1, now, "", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("settling a finished job should be ErrNotFound, got %v", err)
	}
}

// failFirstSuccess fails to record the first success.
type failFirstSuccess struct {
	*SQLiteStore
	failed atomic.Bool
}

func (s *failFirstSuccess) Finish(ctx context.Context, tempID string, status Status, attempts int, lastErr string) error {
	if status == StatusSucceeded && s.failed.CompareAndSwap(false, true) {
		return errors.New("disk I/O error")
	}
	return s.SQLiteStore.Finish(ctx, tempID, status, attempts, lastErr)
}

func TestQueue_UnrecordedSuccessIsRetried(t *testing.T) {
	store := &failFirstSuccess{SQLiteStore: openTestStore(t, "")}
	remote := newFakeRemote()
	q := NewQueue(store, remote, nil, fastOptions())
	id := ids.NewTempID()
	q.EnqueueWithID(context.Background(), id, sampleResult, "u")
	startQueue(t, q)

	waitForStatus(t, q, id, StatusSucceeded)
	if got := remote.callCount(id); got != 2 {
		t.Errorf("expected a second idempotent attempt, got %d calls", got)
	}
}

// brokenGet cannot load jobs.
type brokenGet struct {
	*SQLiteStore
}

func (brokenGet) Get(context.Context, string) (*Job, error) {
	return nil, errors.New("database is locked")
}

func TestQueue_CancelSurvivesLookupFailure(t *testing.T) {
	var observed atomic.Int32
	opts := fastOptions()
	opts.Observer = ObserverFunc(func(context.Context, Outcome) { observed.Add(1) })
	q := NewQueue(brokenGet{openTestStore(t, "")}, newFakeRemote(), nil, opts)
	ctx := context.Background()
	id := ids.NewTempID()
	q.EnqueueWithID(ctx, id, sampleResult, "u")

	status, err := q.Cancel(ctx, id)
	if err != nil || status != StatusCancelled {
		t.Fatalf("cancel: %v %v", status, err)
	}
	if observed.Load() != 0 {
		t.Error("no outcome event can be built without the job")
	}
}
