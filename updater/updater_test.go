package updater

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bill-scraper/config"
	"github.com/bill-scraper/logger"
)

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.UpdateConfig{}, "1.0.0")
	assert.Equal(t, "bill-scraper/bill-scraper", c.Slug())
	assert.Equal(t, DefaultCheckInterval, c.CheckInterval)
	assert.Equal(t, "1.0.0", c.CurrentVersion)

	c = FromConfig(config.UpdateConfig{Owner: "acme", Repo: "bills", Interval: time.Minute}, "1.0.0")
	assert.Equal(t, "acme/bills", c.Slug())
	assert.Equal(t, time.Minute, c.CheckInterval)
}

func TestNormalizeVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", normalizeVersion("1.2.0"))
	assert.Equal(t, "v1.2.0", normalizeVersion("v1.2.0"))
	assert.Equal(t, "", normalizeVersion(""))
}

func stubbed(check func(context.Context) (*Candidate, error)) (*Updater, *[]string) {
	var mu sync.Mutex
	var applied []string
	u := New(Config{CheckInterval: 5 * time.Millisecond, CurrentVersion: "1.0.0"}, logger.Discard())
	u.startupDelay = 0
	u.check = check
	u.apply = func(ctx context.Context, c *Candidate) error {
		mu.Lock()
		defer mu.Unlock()
		applied = append(applied, c.Version)
		return nil
	}
	return u, &applied
}

func TestCheckAndUpdate(t *testing.T) {
	u, applied := stubbed(func(context.Context) (*Candidate, error) { return nil, nil })
	updated, err := u.CheckAndUpdate(context.Background())
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Empty(t, *applied)

	u.check = func(context.Context) (*Candidate, error) { return &Candidate{Version: "1.1.0"}, nil }
	updated, err = u.CheckAndUpdate(context.Background())
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, []string{"1.1.0"}, *applied)

	u.check = func(context.Context) (*Candidate, error) { return nil, errors.New("rate limited") }
	_, err = u.CheckAndUpdate(context.Background())
	assert.EqualError(t, err, "rate limited")
}

func TestRun_WaitsForIdle(t *testing.T) {
	var checks atomic.Int32
	u, applied := stubbed(func(context.Context) (*Candidate, error) {
		checks.Add(1)
		return &Candidate{Version: "1.1.0"}, nil
	})

	var busyCalls atomic.Int32
	busy := func() bool { return busyCalls.Add(1) <= 3 }
	updated := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, u.Run(ctx, busy, func() { close(updated) }))

	select {
	case <-updated:
	default:
		t.Fatal("onUpdated was not called")
	}
	assert.Equal(t, []string{"1.1.0"}, *applied)
	assert.Equal(t, int32(1), checks.Load(), "a held-back update is not looked up again")
	assert.Equal(t, int32(4), busyCalls.Load())
}

func TestRun_StopsOnCancel(t *testing.T) {
	u, applied := stubbed(func(context.Context) (*Candidate, error) { return nil, errors.New("offline") })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx, nil, nil) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("updater did not stop")
	}
	assert.Empty(t, *applied)
}

func TestRestartService_ReturnsOnShutdown(t *testing.T) {
	done := make(chan struct{})
	close(done)

	returned := make(chan struct{})
	go func() {
		RestartService(done, logger.Discard())
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(settle + time.Second):
		t.Fatal("RestartService did not return after shutdown")
	}
}
