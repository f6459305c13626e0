package browsermgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autolite/internal/session"
)

func TestCDPEndpoint(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:9001", CDPEndpoint(9001))
}

func TestPersistentContextOptionsStandard(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.Slave = false
	cfg.Headless = false
	opts := session.BuildOptions(cfg)

	got := PersistentContextOptions(cfg, opts)
	require.NotNil(t, got.Channel)
	assert.Equal(t, "chrome", *got.Channel)
	require.NotNil(t, got.Headless)
	assert.False(t, *got.Headless)
	assert.Equal(t, []string{"--enable-automation"}, got.IgnoreDefaultArgs)
	assert.Equal(t, opts.Args, got.Args)
	assert.Contains(t, got.Args, "--disable-blink-features=AutomationControlled")
}

func TestPersistentContextOptionsStealth(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.Slave = false
	cfg.Variant = session.Stealth

	got := PersistentContextOptions(cfg, session.BuildOptions(cfg))
	assert.Empty(t, got.IgnoreDefaultArgs)
	assert.Contains(t, got.Args, "--disable-gpu")
	assert.True(t, *got.Headless)
}

func TestOpenHonoursCancelledContext(t *testing.T) {
	m := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Open(ctx, session.DefaultConfig(), session.Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, m.OpenSessions())
	m.Close()
}
