package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1:50051", c.ServerEndpointAddr)
	assert.Equal(t, 3*time.Second, c.OnlineCheckInterval)
	assert.Equal(t, 15*time.Second, c.OperationTimeout)
	assert.Equal(t, 2*time.Second, c.StatusDebounce)
	assert.Equal(t, 5*time.Second, c.SweepBase)
	assert.Equal(t, 5*time.Minute, c.SweepMax)
	assert.Equal(t, []string{"animals", "weighings", "lots", "events"}, c.Kinds)
	assert.Empty(t, c.BridgeAddr)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}

	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, "127.0.0.1:50051", cfg.ServerEndpointAddr)
	assert.Equal(t, 3*time.Second, cfg.OnlineCheckInterval)
}

func TestLoadConfig_ClampsOperationTimeout(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"testbin", "-t", "2"}
	assert.Equal(t, MinOperationTimeout, LoadConfig().OperationTimeout)

	os.Args = []string{"testbin", "-t", "90"}
	assert.Equal(t, MaxOperationTimeout, LoadConfig().OperationTimeout)
}
