package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"exhub/internal/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ exchange.Adapter = (*Adapter)(nil)
var _ exchange.BatchSubscriber = (*Adapter)(nil)

func TestConnectIsIdempotent(t *testing.T) {
	a := New(exchange.Config{ID: "alpha"}, Options{})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Connect(ctx))
	}
	assert.EqualValues(t, 1, a.Sessions())
	assert.EqualValues(t, 5, a.ConnectCalls())
	assert.Equal(t, exchange.StatusConnected, a.Status())
}

func TestConcurrentConnectOpensOneSession(t *testing.T) {
	a := New(exchange.Config{ID: "alpha"}, Options{ConnectDelay: 10 * time.Millisecond})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.Connect(context.Background())
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, a.Sessions())
}

func TestConnectFailureLeavesError(t *testing.T) {
	a := New(exchange.Config{ID: "alpha"}, Options{ConnectErr: errors.New("refused")})
	err := a.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, exchange.StatusError, a.Status())
	assert.Zero(t, a.Sessions())

	// Disconnect 总是安全的，但不会离开 Error。
	require.NoError(t, a.Disconnect(context.Background()))
	assert.Equal(t, exchange.StatusError, a.Status())

	a.SetConnectError(nil)
	require.NoError(t, a.Connect(context.Background()))
	assert.True(t, a.IsConnected())
}

func TestDisconnectNeverConnected(t *testing.T) {
	a := New(exchange.Config{ID: "alpha"}, Options{})
	require.NoError(t, a.Disconnect(context.Background()))
	assert.Equal(t, exchange.StatusDisconnected, a.Status())
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	a := New(exchange.Config{ID: "alpha", APIKey: "k", APISecret: "s"}, Options{})
	assert.ErrorIs(t, a.Authenticate(ctx), exchange.ErrNotConnected)
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.Authenticate(ctx))
	assert.Equal(t, exchange.StatusAuthenticated, a.Status())

	public := New(exchange.Config{ID: "beta"}, Options{})
	require.NoError(t, public.Connect(ctx))
	require.NoError(t, public.Authenticate(ctx))
	assert.Equal(t, exchange.StatusConnected, public.Status())

	bad := New(exchange.Config{ID: "gamma", APIKey: "k", APISecret: "s"}, Options{AuthErr: errors.New("bad key")})
	require.NoError(t, bad.Connect(ctx))
	assert.ErrorIs(t, bad.Authenticate(ctx), exchange.ErrAuthFailed)
	assert.Equal(t, exchange.StatusConnected, bad.Status())
}

func TestSubscriptionsReplayAfterReconnect(t *testing.T) {
	ctx := context.Background()
	a := New(exchange.Config{ID: "alpha"}, Options{TickInterval: 5 * time.Millisecond})
	got := make(chan exchange.Ticker, 16)
	require.NoError(t, a.SubscribeTicker(ctx, "BTCUSDT", func(tk exchange.Ticker) {
		select {
		case got <- tk:
		default:
		}
	}))
	assert.Len(t, a.Pending(), 1)

	require.NoError(t, a.Connect(ctx))
	assert.Empty(t, a.Pending())
	select {
	case tk := <-got:
		assert.Equal(t, "BTCUSDT", tk.Symbol)
		assert.Equal(t, "alpha", tk.Exchange)
		assert.True(t, tk.Ask.GreaterThan(tk.Bid))
	case <-time.After(time.Second):
		t.Fatal("no ticker delivered")
	}

	a.Drop(nil)
	assert.Equal(t, exchange.StatusError, a.Status())
	assert.Len(t, a.Pending(), 1)
	require.NoError(t, a.Connect(ctx))
	assert.Empty(t, a.Pending())
	require.NoError(t, a.Disconnect(ctx))
}

func TestSubscribeNilCallback(t *testing.T) {
	a := New(exchange.Config{ID: "alpha"}, Options{})
	assert.ErrorIs(t, a.SubscribeTrades(context.Background(), "BTCUSDT", nil), exchange.ErrNilCallback)
	assert.ErrorIs(t, a.SubscribeBatch(context.Background(), exchange.KindTicker, []string{"BTCUSDT"}, exchange.Handlers{}), exchange.ErrNilCallback)
}

func TestHealthCheckNeverFails(t *testing.T) {
	ctx := context.Background()
	a := New(exchange.Config{ID: "alpha"}, Options{Symbols: []string{"BTCUSDT", "ETHUSDT"}})
	report := a.HealthCheck(ctx)
	assert.False(t, report.Reachable)
	assert.Equal(t, exchange.HealthDisconnected, report.Status)

	require.NoError(t, a.Connect(ctx))
	report = a.HealthCheck(ctx)
	assert.True(t, report.Reachable)
	assert.Equal(t, 2, report.InstrumentCount)

	a.SetHealthError(errors.New("exchange unreachable"))
	report = a.HealthCheck(ctx)
	assert.Equal(t, exchange.HealthUnhealthy, report.Status)
	assert.Equal(t, "exchange unreachable", report.Error)
}

func TestMaintenanceBlocksConnect(t *testing.T) {
	ctx := context.Background()
	a := New(exchange.Config{ID: "alpha"}, Options{})
	require.NoError(t, a.Connect(ctx))
	a.SetMaintenance(true, "upgrade")
	assert.Equal(t, exchange.StatusMaintenance, a.Status())
	assert.ErrorIs(t, a.Connect(ctx), exchange.ErrMaintenance)

	a.SetMaintenance(false, "")
	require.NoError(t, a.Connect(ctx))
	assert.EqualValues(t, 2, a.Sessions())
}

func TestSupportedSymbolsHonoursContext(t *testing.T) {
	a := New(exchange.Config{ID: "alpha"}, Options{Symbols: []string{"X"}, SymbolsDelay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.SupportedSymbols(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewFromConfig(t *testing.T) {
	r := exchange.NewRegistry()
	Register(r)
	ad, err := r.Build("paper", exchange.Config{Kind: Kind, Extra: map[string]string{"tick_interval": "250ms"}})
	require.NoError(t, err)
	syms, err := ad.SupportedSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defaultSymbols, syms)

	_, err = r.Build("paper", exchange.Config{Kind: Kind, Extra: map[string]string{"tick_interval": "soon"}})
	assert.Error(t, err)
}
