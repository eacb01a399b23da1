package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtiwari1/tradeflow/internal/config"
	"github.com/mtiwari1/tradeflow/internal/extract"
)

func TestRootCommands(t *testing.T) {
	root := rootCmd()

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	for _, name := range []string{"http-addr", "grpc-addr", "upload-dir"} {
		assert.NotNil(t, serve.Flags().Lookup(name), name)
	}

	create, _, err := root.Find([]string{"session", "create"})
	require.NoError(t, err)
	assert.Equal(t, "create [user-id]", create.Use)
	assert.NotNil(t, create.Flags().Lookup("ttl"))
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	cmd := serveCmd(new(string))
	require.NoError(t, cmd.Flags().Set("http-addr", ":9999"))

	cfg, logger, err := loadConfig(cmd, "", map[string]string{"http.addr": "http-addr", "grpc.addr": "grpc-addr"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, ":50051", cfg.GRPC.Addr)
}

func TestNewExtractorSimulated(t *testing.T) {
	ext, closeFn, err := newExtractor(context.Background(), config.ExtractConfig{Backend: "simulated", Latency: time.Millisecond})
	require.NoError(t, err)
	defer closeFn()
	assert.Equal(t, extract.Simulated{Latency: time.Millisecond}, ext)
}
