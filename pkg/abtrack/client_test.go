package abtrack_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/abtrack/pkg/abtrack"
	"github.com/randalmurphal/abtrack/pkg/abtrack/assign"
	aberrors "github.com/randalmurphal/abtrack/pkg/abtrack/errors"
	"github.com/randalmurphal/abtrack/pkg/abtrack/event"
	"github.com/randalmurphal/abtrack/pkg/abtrack/schedule"
	"github.com/randalmurphal/abtrack/pkg/abtrack/store"
	"github.com/randalmurphal/abtrack/pkg/abtrack/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnreachable = errors.New("network unreachable")

// flakyTransport fails while down is set and records what it delivered.
type flakyTransport struct {
	down      atomic.Bool
	mu        sync.Mutex
	delivered []event.Event
}

func (f *flakyTransport) Deliver(_ context.Context, evt event.Event) error {
	if f.down.Load() {
		return errUnreachable
	}
	f.mu.Lock()
	f.delivered = append(f.delivered, evt)
	f.mu.Unlock()
	return nil
}

func (f *flakyTransport) Delivered() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.delivered...)
}

var banner = assign.Experiment{
	ID: "homepage_banner",
	Variants: []assign.Variant{
		{Name: "control", Allocation: 50},
		{Name: "treatment", Allocation: 50},
	},
}

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func debugLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newClient(t *testing.T, st store.Store, tr event.Transport, opts ...abtrack.Option) *abtrack.Client {
	t.Helper()
	c, err := abtrack.New(st, tr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := abtrack.New(nil, transport.Echo)
	assert.ErrorIs(t, err, abtrack.ErrNilStore)

	_, err = abtrack.New(store.NewMemoryStore(), nil)
	assert.ErrorIs(t, err, abtrack.ErrNilTransport)
}

func TestNew_CorruptStateStartsEmpty(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Set(store.KeyEvents, []byte(`{not json`)))
	require.NoError(t, st.Set(store.KeyAssignments, []byte(`[1,2]`)))

	c := newClient(t, st, transport.Echo)
	assert.Empty(t, c.Pending())
	assert.Empty(t, c.Assignments())
	assert.NotEmpty(t, c.SessionID())
}

func TestClient_VariantBeforeInit(t *testing.T) {
	c := newClient(t, store.NewMemoryStore(), transport.Echo)

	_, err := c.Variant("homepage_banner")
	require.Error(t, err)
	assert.True(t, aberrors.IsAssignmentMissing(err))

	_, err = c.TrackExposure(context.Background(), "homepage_banner")
	assert.True(t, aberrors.IsAssignmentMissing(err))
}

func TestClient_AssignmentIsStable(t *testing.T) {
	c := newClient(t, store.NewMemoryStore(), transport.Echo, abtrack.WithSeed(7))
	ctx := context.Background()

	require.NoError(t, c.Init(ctx, []assign.Experiment{banner}))
	first, err := c.Variant(banner.ID)
	require.NoError(t, err)
	assert.Contains(t, []string{"control", "treatment"}, first)

	for range 20 {
		require.NoError(t, c.Init(ctx, []assign.Experiment{banner}))
		got, err := c.Variant(banner.ID)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestClient_AssignmentSurvivesRestart(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	c1, err := abtrack.New(st, transport.Echo)
	require.NoError(t, err)
	require.NoError(t, c1.Init(ctx, []assign.Experiment{banner}))
	want, err := c1.Variant(banner.ID)
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2 := newClient(t, st, transport.Echo)
	got, err := c2.Variant(banner.ID)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClient_InitReportsInvalidExperiments(t *testing.T) {
	c := newClient(t, store.NewMemoryStore(), transport.Echo)

	err := c.Init(context.Background(), []assign.Experiment{
		banner,
		{ID: "broken"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, assign.ErrNoVariants)

	_, err = c.Variant(banner.ID)
	assert.NoError(t, err)
	_, err = c.Variant("broken")
	assert.True(t, aberrors.IsAssignmentMissing(err))
}

func TestClient_TrackExposureUsesAssignment(t *testing.T) {
	tr := &flakyTransport{}
	c := newClient(t, store.NewMemoryStore(), tr,
		abtrack.WithClock(func() time.Time { return fixedTime }),
	)
	ctx := context.Background()
	require.NoError(t, c.Init(ctx, []assign.Experiment{banner}))
	variant, err := c.Variant(banner.ID)
	require.NoError(t, err)

	outcome, err := c.TrackExposure(ctx, banner.ID)
	require.NoError(t, err)
	assert.Equal(t, event.OutcomeDelivered, outcome)

	outcome, err = c.TrackInteraction(ctx, banner.ID)
	require.NoError(t, err)
	assert.Equal(t, event.OutcomeDelivered, outcome)

	got := tr.Delivered()
	require.Len(t, got, 2)
	assert.Equal(t, event.Event{
		ExperimentID: banner.ID,
		Variant:      variant,
		EventType:    event.Exposure,
		Timestamp:    "2024-05-01T12:00:00.000Z",
	}, got[0])
	assert.Equal(t, event.Interaction, got[1].EventType)
}

func TestClient_QueuedEventSurvivesRestart(t *testing.T) {
	st := store.NewMemoryStore()
	tr := &flakyTransport{}
	tr.down.Store(true)
	ctx := context.Background()

	c1, err := abtrack.New(st, tr)
	require.NoError(t, err)
	first := event.NewEvent("a", "control", event.Exposure, fixedTime)
	second := event.NewEvent("b", "treatment", event.Interaction, fixedTime.Add(time.Second))
	assert.Equal(t, event.OutcomeQueued, c1.Track(ctx, first))
	assert.Equal(t, event.OutcomeQueued, c1.Track(ctx, second))
	require.NoError(t, c1.Close())

	c2 := newClient(t, st, tr)
	assert.Equal(t, []event.Event{first, second}, c2.Pending())
}

func TestClient_InitDrainsPersistedQueue(t *testing.T) {
	st := store.NewMemoryStore()
	tr := &flakyTransport{}
	tr.down.Store(true)
	ctx := context.Background()

	c1, err := abtrack.New(st, tr)
	require.NoError(t, err)
	queued := event.NewEvent("a", "control", event.Exposure, fixedTime)
	c1.Track(ctx, queued)
	require.NoError(t, c1.Close())

	tr.down.Store(false)
	c2 := newClient(t, st, tr)
	require.NoError(t, c2.Init(ctx, nil))

	require.Eventually(t, func() bool { return len(c2.Pending()) == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []event.Event{queued}, tr.Delivered())
}

func TestClient_ReconnectDrains(t *testing.T) {
	sw := schedule.NewSwitch(false, nil)
	tr := &flakyTransport{}
	c := newClient(t, store.NewMemoryStore(), tr, abtrack.WithConnectivity(sw))
	ctx := context.Background()
	require.NoError(t, c.Init(ctx, nil))

	tr.down.Store(true)
	c.Track(ctx, event.NewEvent("a", "control", event.Exposure, fixedTime))
	require.Len(t, c.Pending(), 1)

	tr.down.Store(false)
	sw.SetOnline(true)

	require.Eventually(t, func() bool { return len(c.Pending()) == 0 },
		2*time.Second, 10*time.Millisecond)
}

// stallingTransport holds its first delivery until released, then fails it.
// Later deliveries succeed.
type stallingTransport struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func newStallingTransport() *stallingTransport {
	return &stallingTransport{started: make(chan struct{}), release: make(chan struct{})}
}

func (s *stallingTransport) Deliver(_ context.Context, _ event.Event) error {
	if s.calls.Add(1) == 1 {
		close(s.started)
		<-s.release
		return errUnreachable
	}
	return nil
}

func (s *stallingTransport) Release() { s.once.Do(func() { close(s.release) }) }

func TestClient_ReconnectDuringPassIsNotLost(t *testing.T) {
	st := store.NewMemoryStore()
	queued := event.NewEvent("a", "control", event.Exposure, fixedTime)
	require.NoError(t, store.SaveJSON(st, store.KeyEvents, []event.Event{queued}))

	sw := schedule.NewSwitch(false, nil)
	tr := newStallingTransport()
	logger, logs := debugLogger()
	c := newClient(t, st, tr,
		abtrack.WithConnectivity(sw),
		abtrack.WithRetryInterval(time.Hour),
		abtrack.WithLogger(logger),
	)
	t.Cleanup(tr.Release)

	require.NoError(t, c.Init(context.Background(), nil))
	<-tr.started

	// The link comes back while the startup pass is still failing.
	sw.SetOnline(true)
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "drain already in flight")
	}, 2*time.Second, 10*time.Millisecond)

	tr.Release()
	require.Eventually(t, func() bool { return len(c.Pending()) == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 2, tr.calls.Load())
}

func TestClient_DrainAndPurge(t *testing.T) {
	tr := &flakyTransport{}
	tr.down.Store(true)
	c := newClient(t, store.NewMemoryStore(), tr)
	ctx := context.Background()

	c.Track(ctx, event.NewEvent("a", "control", event.Exposure, fixedTime))
	res := c.Drain(ctx)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Remaining)

	require.NoError(t, c.Purge())
	assert.Empty(t, c.Pending())
}

func TestClient_WatchExperiments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abtrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: {driver: memory}\n"), 0o600))

	c := newClient(t, store.NewMemoryStore(), transport.Echo)
	require.NoError(t, c.WatchExperiments(path))

	updated := `store: {driver: memory}
experiments:
  - id: checkout_flow
    variants: [{name: one_page, allocation: 100}]
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool {
		v, err := c.Variant("checkout_flow")
		return err == nil && v == "one_page"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestClient_Close(t *testing.T) {
	c, err := abtrack.New(store.NewMemoryStore(), transport.Echo)
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background(), nil))

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())

	assert.ErrorIs(t, c.Init(context.Background(), nil), abtrack.ErrClosed)
	assert.ErrorIs(t, c.WatchExperiments("whatever.yaml"), abtrack.ErrClosed)
}
