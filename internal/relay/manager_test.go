package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appresence/appresence/internal/config"
	"github.com/appresence/appresence/internal/sdk"
)

type fakeConn struct {
	activities []sdk.Activity
	clears     int32
	closed     int32
	clearErr   error
	mu         sync.Mutex
}

func (c *fakeConn) SetActivity(ctx context.Context, activity sdk.Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activities = append(c.activities, activity)
	return nil
}

func (c *fakeConn) Clear(ctx context.Context) error {
	c.mu.Lock()
	err := c.clearErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	atomic.AddInt32(&c.clears, 1)
	return nil
}

func (c *fakeConn) Close() error {
	atomic.AddInt32(&c.closed, 1)
	return nil
}

type fakeConnector struct {
	mu         sync.Mutex
	logins     int32
	loginDelay time.Duration
	loginErr   error
	conns      []*fakeConn
}

func (f *fakeConnector) Login(ctx context.Context, clientID string) (sdk.Conn, error) {
	atomic.AddInt32(&f.logins, 1)
	if f.loginDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.loginDelay):
		}
	}
	if f.loginErr != nil {
		return nil, f.loginErr
	}

	conn := &fakeConn{}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()
	return conn, nil
}

func testManager(connector sdk.Connector) *Manager {
	cfg := config.Default().Relay
	cfg.LoginPoll = 10 * time.Millisecond
	return NewManager(connector, cfg, zerolog.Nop())
}

func TestEnsureSessionCacheHit(t *testing.T) {
	connector := &fakeConnector{}
	m := testManager(connector)
	ctx := context.Background()

	require.NoError(t, m.EnsureSession(ctx, "client-a"))
	require.NoError(t, m.EnsureSession(ctx, "client-a"))

	assert.EqualValues(t, 1, atomic.LoadInt32(&connector.logins), "same identity must reuse the session")
	assert.Equal(t, "client-a", m.CurrentClientID())
}

func TestEnsureSessionRequiresClientID(t *testing.T) {
	m := testManager(&fakeConnector{})
	require.Error(t, m.EnsureSession(context.Background(), ""))
}

func TestEnsureSessionSwitchesIdentity(t *testing.T) {
	connector := &fakeConnector{}
	m := testManager(connector)
	ctx := context.Background()

	require.NoError(t, m.EnsureSession(ctx, "client-a"))
	require.NoError(t, m.EnsureSession(ctx, "client-b"))

	assert.EqualValues(t, 2, atomic.LoadInt32(&connector.logins))
	assert.Equal(t, "client-b", m.CurrentClientID())

	// The old connection must be torn down before the new one exists.
	connector.mu.Lock()
	defer connector.mu.Unlock()
	require.Len(t, connector.conns, 2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&connector.conns[0].closed))
	assert.EqualValues(t, 0, atomic.LoadInt32(&connector.conns[1].closed))
}

func TestEnsureSessionConcurrentSingleLogin(t *testing.T) {
	connector := &fakeConnector{loginDelay: 50 * time.Millisecond}
	m := testManager(connector)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.EnsureSession(ctx, "client-a")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.EqualValues(t, 1, atomic.LoadInt32(&connector.logins), "concurrent callers must share one login attempt")
}

func TestEnsureSessionLoginFailureReturnsToIdle(t *testing.T) {
	connector := &fakeConnector{loginErr: fmt.Errorf("service unavailable")}
	m := testManager(connector)

	require.Error(t, m.EnsureSession(context.Background(), "client-a"))
	assert.False(t, m.Connected())
	assert.False(t, m.EverConnected())

	// The slot must be free for a retry.
	connector.loginErr = nil
	require.NoError(t, m.EnsureSession(context.Background(), "client-a"))
	assert.True(t, m.Connected())
}

func TestSetActivityRequiresReady(t *testing.T) {
	m := testManager(&fakeConnector{})
	err := m.SetActivity(context.Background(), "Using App A", 100)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClearActivityIdempotent(t *testing.T) {
	connector := &fakeConnector{}
	m := testManager(connector)
	ctx := context.Background()

	require.NoError(t, m.EnsureSession(ctx, "client-a"))
	require.NoError(t, m.SetActivity(ctx, "Using App A", 100))

	require.NoError(t, m.ClearActivity(ctx))
	require.NoError(t, m.ClearActivity(ctx))

	conn := connector.conns[0]
	assert.EqualValues(t, 1, atomic.LoadInt32(&conn.clears), "repeated clear while cleared must be a no-op")
}

func TestStalenessSweepClearsExactlyOnce(t *testing.T) {
	connector := &fakeConnector{}
	m := testManager(connector)
	ctx := context.Background()

	require.NoError(t, m.EnsureSession(ctx, "client-a"))
	require.NoError(t, m.SetActivity(ctx, "Using App A", 100))

	now := time.Now()
	m.nowFn = func() time.Time { return now.Add(61 * time.Second) }

	m.sweepOnce(ctx)
	conn := connector.conns[0]
	assert.EqualValues(t, 1, atomic.LoadInt32(&conn.clears), "first sweep tick must clear once")

	m.sweepOnce(ctx)
	assert.EqualValues(t, 1, atomic.LoadInt32(&conn.clears), "second sweep tick must not clear again")
}

func TestSweepRetriesAfterFailedClear(t *testing.T) {
	connector := &fakeConnector{}
	m := testManager(connector)
	ctx := context.Background()

	require.NoError(t, m.EnsureSession(ctx, "client-a"))
	require.NoError(t, m.SetActivity(ctx, "Using App A", 100))

	now := time.Now()
	m.nowFn = func() time.Time { return now.Add(61 * time.Second) }

	conn := connector.conns[0]
	conn.mu.Lock()
	conn.clearErr = fmt.Errorf("service hiccup")
	conn.mu.Unlock()

	m.sweepOnce(ctx)
	assert.EqualValues(t, 0, atomic.LoadInt32(&conn.clears), "failed clear must not count as cleared")

	conn.mu.Lock()
	conn.clearErr = nil
	conn.mu.Unlock()

	m.sweepOnce(ctx)
	assert.EqualValues(t, 1, atomic.LoadInt32(&conn.clears), "next tick must retry the clear")

	m.sweepOnce(ctx)
	assert.EqualValues(t, 1, atomic.LoadInt32(&conn.clears), "a successful clear still fires only once")
}

func TestSweepIgnoresFreshActivity(t *testing.T) {
	connector := &fakeConnector{}
	m := testManager(connector)
	ctx := context.Background()

	require.NoError(t, m.EnsureSession(ctx, "client-a"))
	require.NoError(t, m.SetActivity(ctx, "Using App A", 100))

	m.sweepOnce(ctx)

	conn := connector.conns[0]
	assert.EqualValues(t, 0, atomic.LoadInt32(&conn.clears))
}

func TestShutdownClosesConnection(t *testing.T) {
	connector := &fakeConnector{}
	m := testManager(connector)

	require.NoError(t, m.EnsureSession(context.Background(), "client-a"))
	m.Shutdown()

	assert.False(t, m.Connected())
	assert.EqualValues(t, 1, atomic.LoadInt32(&connector.conns[0].closed))
	assert.True(t, m.EverConnected())
}
