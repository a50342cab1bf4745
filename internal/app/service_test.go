package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/pollbook/internal/adapter/memory"
	"github.com/pscheid92/pollbook/internal/adapter/metrics"
	"github.com/pscheid92/pollbook/internal/address"
	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/pscheid92/pollbook/internal/platform/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockPublisher struct {
	mu        sync.Mutex
	events    []domain.Event
	publishFn func(ctx context.Context, event domain.Event) error
}

func (m *mockPublisher) Publish(ctx context.Context, event domain.Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.publishFn != nil {
		return m.publishFn(ctx, event)
	}
	return nil
}

func (m *mockPublisher) published() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Event(nil), m.events...)
}

type mockUnitOfWork struct {
	runFn  func(ctx context.Context, fn func(ctx context.Context, kv domain.KVStore) error) error
	pingFn func(ctx context.Context) error
}

func (m *mockUnitOfWork) Run(ctx context.Context, fn func(ctx context.Context, kv domain.KVStore) error) error {
	return m.runFn(ctx, fn)
}

func (m *mockUnitOfWork) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

// failingKV delegates to inner but fails writes to keys with the given prefix.
type failingKV struct {
	domain.KVStore
	prefix string
}

func (f failingKV) Put(ctx context.Context, key string, value []byte) error {
	if strings.HasPrefix(key, f.prefix) {
		return errors.New("disk full")
	}
	return f.KVStore.Put(ctx, key, value)
}

// --- Helpers ---

const cosmos = "Do you like Cosmos?"

type fixture struct {
	svc       *Service
	store     *memory.Store
	publisher *mockPublisher
	metrics   *metrics.LedgerMetrics
	clock     *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	pub := &mockPublisher{}
	m := metrics.NewLedgerMetrics(prometheus.NewRegistry())
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	return &fixture{
		svc:       NewService(store, address.NewValidator(0, 0, ""), pub, m, clock),
		store:     store,
		publisher: pub,
		metrics:   m,
		clock:     clock,
	}
}

func (f *fixture) instantiate(t *testing.T) {
	t.Helper()
	_, err := f.svc.Instantiate(context.Background(), domain.InstantiateMsg{AdminAddress: "addr"})
	require.NoError(t, err)
}

// --- Instantiate ---

func TestInstantiate_StoresConfigAndContractInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Instantiate(ctx, domain.InstantiateMsg{AdminAddress: "addr"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionInstantiate, resp.Action())

	cfg, err := f.svc.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "addr", cfg.AdminAddress)

	info, err := f.svc.ContractInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ContractInfo{Contract: version.Name, Version: version.Version}, info)

	events := f.publisher.published()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventInstantiated, events[0].Type)
	assert.Equal(t, "addr", events[0].AdminAddress)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
	assert.Equal(t, f.clock.Now(), events[0].OccurredAt)
}

func TestInstantiate_InvalidAddress(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Instantiate(context.Background(), domain.InstantiateMsg{AdminAddress: "Bad Address"})
	require.ErrorIs(t, err, domain.ErrInvalidAddress)
	assert.Empty(t, f.store.Keys())
	assert.Empty(t, f.publisher.published())
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Invocations.WithLabelValues("instantiate", "instantiate", "rejected")), 0.001)
}

func TestInstantiate_ContractInfoFailureRollsBackConfig(t *testing.T) {
	store := memory.NewStore()
	uow := &mockUnitOfWork{runFn: func(ctx context.Context, fn func(ctx context.Context, kv domain.KVStore) error) error {
		return store.Run(ctx, func(ctx context.Context, kv domain.KVStore) error {
			return fn(ctx, failingKV{KVStore: kv, prefix: "contract_info"})
		})
	}}
	svc := NewService(uow, address.NewValidator(0, 0, ""), nil, nil, clockwork.NewFakeClock())

	_, err := svc.Instantiate(context.Background(), domain.InstantiateMsg{AdminAddress: "addr"})
	require.ErrorIs(t, err, domain.ErrStorageWrite)
	assert.Empty(t, store.Keys())
}

func TestEnsureInstantiated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.EnsureInstantiated(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.svc.EnsureInstantiated(ctx, "someone-else")
	require.NoError(t, err)
	assert.False(t, created)

	cfg, err := f.svc.GetConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.AdminAddress)
	assert.Len(t, f.publisher.published(), 1)
}

func TestEnsureInstantiated_InvalidAddress(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.EnsureInstantiated(context.Background(), "NOPE")
	require.ErrorIs(t, err, domain.ErrInvalidAddress)
	assert.Empty(t, f.store.Keys())
}

// --- Execute ---

func TestExecute_CreatePollAndVote(t *testing.T) {
	f := newFixture(t)
	f.instantiate(t)
	ctx := context.Background()

	resp, err := f.svc.Execute(ctx, domain.CreatePoll{Question: cosmos})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionCreatePoll, resp.Action())

	resp, err = f.svc.Execute(ctx, domain.Vote{Question: cosmos, Choice: "yes"})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionVote, resp.Action())

	poll, err := f.svc.GetPoll(ctx, cosmos)
	require.NoError(t, err)
	assert.Equal(t, &domain.Poll{Question: cosmos, YesVotes: 1}, poll)

	events := f.publisher.published()
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventPollCreated, events[1].Type)
	assert.Equal(t, domain.EventVoteCast, events[2].Type)
	assert.Equal(t, domain.ChoiceYes, events[2].Choice)
	assert.Equal(t, &domain.Poll{Question: cosmos, YesVotes: 1}, events[2].Poll)

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Invocations.WithLabelValues("execute", "vote", "ok")), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.EventsPublished.WithLabelValues("vote_cast", "ok")), 0.001)
}

func TestExecute_FailuresLeaveTallyAndPublishNothing(t *testing.T) {
	f := newFixture(t)
	f.instantiate(t)
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, domain.CreatePoll{Question: cosmos})
	require.NoError(t, err)
	_, err = f.svc.Execute(ctx, domain.Vote{Question: cosmos, Choice: "yes"})
	require.NoError(t, err)
	before := len(f.publisher.published())

	_, err = f.svc.Execute(ctx, domain.Vote{Question: "Do you like ETH?", Choice: "no"})
	require.ErrorIs(t, err, domain.ErrPollNotFound)

	_, err = f.svc.Execute(ctx, domain.Vote{Question: cosmos, Choice: "Maybe"})
	require.ErrorIs(t, err, domain.ErrInvalidChoice)

	_, err = f.svc.Execute(ctx, domain.CreatePoll{Question: cosmos})
	require.ErrorIs(t, err, domain.ErrDuplicateKey)

	poll, err := f.svc.GetPoll(ctx, cosmos)
	require.NoError(t, err)
	assert.Equal(t, &domain.Poll{Question: cosmos, YesVotes: 1, NoVotes: 0}, poll)
	assert.Len(t, f.publisher.published(), before)
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.Invocations.WithLabelValues("execute", "vote", "rejected")), 0.001)
}

func TestExecute_PublishFailureDoesNotFailCommand(t *testing.T) {
	f := newFixture(t)
	f.publisher.publishFn = func(context.Context, domain.Event) error {
		return errors.New("hub closed")
	}

	_, err := f.svc.Execute(context.Background(), domain.CreatePoll{Question: cosmos})
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.EventsPublished.WithLabelValues("poll_created", "error")), 0.001)
}

func TestExecute_StorageFailureIsReportedAsError(t *testing.T) {
	uow := &mockUnitOfWork{runFn: func(context.Context, func(context.Context, domain.KVStore) error) error {
		return errors.Join(domain.ErrStorageRead, errors.New("connection refused"))
	}}
	m := metrics.NewLedgerMetrics(prometheus.NewRegistry())
	svc := NewService(uow, address.NewValidator(0, 0, ""), nil, m, clockwork.NewFakeClock())

	_, err := svc.Execute(context.Background(), domain.Vote{Question: cosmos, Choice: "yes"})
	require.ErrorIs(t, err, domain.ErrStorageRead)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Invocations.WithLabelValues("execute", "vote", "error")), 0.001)
}

// --- Query ---

func TestQuery_GetPollAbsent(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.Query(context.Background(), domain.GetPoll{Question: "nothing"})
	require.NoError(t, err)
	assert.Equal(t, domain.GetPollResponse{Poll: nil}, got)
}

func TestQuery_GetConfigBeforeInstantiate(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Query(context.Background(), domain.GetConfig{})
	require.ErrorIs(t, err, domain.ErrConfigNotFound)
}

func TestGetPoll_ReturnsCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Execute(ctx, domain.CreatePoll{Question: cosmos})
	require.NoError(t, err)

	first, err := f.svc.GetPoll(ctx, cosmos)
	require.NoError(t, err)
	first.YesVotes = 99

	second, err := f.svc.GetPoll(ctx, cosmos)
	require.NoError(t, err)
	assert.Zero(t, second.YesVotes)
}

func TestGetPoll_SeesVoteCommittedDuringConcurrentRead(t *testing.T) {
	store := memory.NewStore()
	var gated atomic.Bool
	read := make(chan struct{})
	release := make(chan struct{})

	uow := &mockUnitOfWork{runFn: func(ctx context.Context, fn func(ctx context.Context, kv domain.KVStore) error) error {
		err := store.Run(ctx, fn)
		if gated.CompareAndSwap(true, false) {
			close(read)
			<-release
		}
		return err
	}}
	svc := NewService(uow, address.NewValidator(0, 0, ""), nil, nil, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := svc.Execute(ctx, domain.CreatePoll{Question: cosmos})
	require.NoError(t, err)

	gated.Store(true)
	stale := make(chan *domain.Poll, 1)
	go func() {
		poll, err := svc.GetPoll(ctx, cosmos)
		assert.NoError(t, err)
		stale <- poll
	}()
	<-read

	_, err = svc.Execute(ctx, domain.Vote{Question: cosmos, Choice: "yes"})
	require.NoError(t, err)

	fresh, err := svc.GetPoll(ctx, cosmos)
	close(release)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, uint64(1), fresh.YesVotes)

	old := <-stale
	require.NotNil(t, old)
	assert.Zero(t, old.YesVotes)
}

// gatedStore blocks every transaction until release is closed.
func gatedStore(store *memory.Store, entered chan<- struct{}, release <-chan struct{}) *mockUnitOfWork {
	return &mockUnitOfWork{runFn: func(ctx context.Context, fn func(ctx context.Context, kv domain.KVStore) error) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return store.Run(ctx, fn)
	}}
}

func TestEnsureInstantiated_CallerCancelDoesNotFailSharedCheck(t *testing.T) {
	store := memory.NewStore()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	svc := NewService(gatedStore(store, entered, release), address.NewValidator(0, 0, ""), nil, nil, clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		created bool
		err     error
	}
	first := make(chan result, 1)
	go func() {
		created, err := svc.EnsureInstantiated(ctx, "admin")
		first <- result{created, err}
	}()
	<-entered
	cancel()

	second := make(chan result, 1)
	go func() {
		created, err := svc.EnsureInstantiated(context.Background(), "admin")
		second <- result{created, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	r1, r2 := <-first, <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	assert.True(t, r1.created)

	cfg, err := svc.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "admin", cfg.AdminAddress)
}

func TestEnsureInstantiated_ConcurrentCallsPublishOnce(t *testing.T) {
	store := memory.NewStore()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	pub := &mockPublisher{}
	m := metrics.NewLedgerMetrics(prometheus.NewRegistry())
	svc := NewService(gatedStore(store, entered, release), address.NewValidator(0, 0, ""), pub, m, clockwork.NewFakeClock())

	var wg sync.WaitGroup
	for range 5 {
		wg.Go(func() {
			_, err := svc.EnsureInstantiated(context.Background(), "admin")
			assert.NoError(t, err)
		})
	}
	<-entered
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Len(t, pub.published(), 1)
	assert.LessOrEqual(t, testutil.ToFloat64(m.Coalesced), float64(4))
}

// --- Misc ---

func TestPing_DelegatesToStore(t *testing.T) {
	down := errors.New("down")
	uow := &mockUnitOfWork{pingFn: func(context.Context) error { return down }}
	svc := NewService(uow, address.NewValidator(0, 0, ""), nil, nil, clockwork.NewFakeClock())

	assert.ErrorIs(t, svc.Ping(context.Background()), down)
}

func TestUptime(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, f.svc.Uptime())
}
