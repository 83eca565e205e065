package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zde37/ringstore/pkg"
	"github.com/zde37/ringstore/pkg/hash"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotNil(t, cfg)
	assert.Equal(t, 3, cfg.SuccessorListSize)
	assert.Equal(t, "127.0.0.1:8440", cfg.Address())
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "empty host", mutate: func(c *Config) { c.Host = "" }, wantErr: true},
		{name: "invalid port (negative)", mutate: func(c *Config) { c.Port = -1 }, wantErr: true},
		{name: "invalid port (too large)", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "invalid HTTP port", mutate: func(c *Config) { c.HTTPPort = 70000 }, wantErr: true},
		{name: "HTTP disabled", mutate: func(c *Config) { c.HTTPPort = 0 }},
		{name: "same ports", mutate: func(c *Config) { c.HTTPPort = c.Port }, wantErr: true},
		{name: "zero successor list", mutate: func(c *Config) { c.SuccessorListSize = 0 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.ReplicationWorkers = 0 }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.RPCTimeout = -time.Second }, wantErr: true},
		{name: "bad node id", mutate: func(c *Config) { c.NodeID = "xyz" }, wantErr: true},
		{name: "hex node id", mutate: func(c *Config) { c.NodeID = "ff" }},
		{name: "bad predecessor", mutate: func(c *Config) { c.Predecessor = "nohost" }, wantErr: true},
		{name: "bad successor", mutate: func(c *Config) { c.Successors = []string{"127.0.0.1:1", "=x:1"} }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, pkg.ErrConfiguration))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestIdentity(t *testing.T) {
	cfg := DefaultConfig()
	id, err := cfg.Identity()
	require.NoError(t, err)
	assert.Equal(t, hash.HashAddress("127.0.0.1", 8440), id)

	cfg.NodeID = "0a"
	id, err = cfg.Identity()
	require.NoError(t, err)
	assert.Equal(t, hash.FromUint64(10), id)

	cfg.NodeID = "not-hex"
	_, err = cfg.Identity()
	assert.True(t, errors.Is(err, pkg.ErrInvalidID))
}

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Peer
		wantErr bool
	}{
		{name: "empty", input: "", want: []Peer{}},
		{
			name:  "with ids",
			input: "0a=127.0.0.1:9001, 0b=127.0.0.1:9002",
			want: []Peer{
				{ID: hash.FromUint64(10), Address: "127.0.0.1:9001"},
				{ID: hash.FromUint64(11), Address: "127.0.0.1:9002"},
			},
		},
		{
			name:  "bare address hashes",
			input: "127.0.0.1:9001,",
			want:  []Peer{{ID: hash.HashAddress("127.0.0.1", 9001), Address: "127.0.0.1:9001"}},
		},
		{name: "missing address", input: "0a=", wantErr: true},
		{name: "missing id", input: "=127.0.0.1:1", wantErr: true},
		{name: "missing port", input: "0a=localhost", wantErr: true},
		{name: "bad port", input: "localhost:0", wantErr: true},
		{name: "bad id", input: "zz=127.0.0.1:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeers(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStaticPeers(t *testing.T) {
	cfg := DefaultConfig()
	pred, succ, err := cfg.StaticPeers()
	require.NoError(t, err)
	assert.Nil(t, pred)
	assert.Empty(t, succ)

	cfg.Predecessor = "01=127.0.0.1:7000"
	cfg.Successors = []string{"02=127.0.0.1:7001", "127.0.0.1:7002"}
	pred, succ, err = cfg.StaticPeers()
	require.NoError(t, err)
	require.NotNil(t, pred)
	assert.Equal(t, hash.FromUint64(1), pred.ID)
	require.Len(t, succ, 2)
	assert.Equal(t, "127.0.0.1:7002", succ[1].Address)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	content := `
host: 10.0.0.5
port: 9440
httpPort: 9080
authToken: secret
successorListSize: 5
rpcTimeout: 2s
successors:
  - 10.0.0.6:9440
logLevel: debug
logFormat: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Host)
	assert.Equal(t, 9440, cfg.Port)
	assert.Equal(t, 9080, cfg.HTTPPort)
	assert.Equal(t, "secret", cfg.AuthToken)
	assert.Equal(t, 5, cfg.SuccessorListSize)
	assert.Equal(t, 2*time.Second, cfg.RPCTimeout)
	assert.Equal(t, []string{"10.0.0.6:9440"}, cfg.Successors)
	assert.Equal(t, 16, cfg.ReplicationWorkers, "unset keys keep their defaults")
	assert.NoError(t, cfg.Validate())

	lc := cfg.LoggerConfig()
	assert.Equal(t, "debug", lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.False(t, lc.File.Enable)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [1, 2"), 0o644))
	_, err = Load(path)
	assert.True(t, errors.Is(err, pkg.ErrConfiguration))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
