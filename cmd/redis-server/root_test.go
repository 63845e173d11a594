package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisserver "github.com/raniellyferreira/redis-inmemory-server"
)

func TestRootCommandServes(t *testing.T) {
	dir := t.TempDir()
	ready := make(chan *redisserver.Server, 1)
	opts := &ServerOptions{ready: func(s *redisserver.Server) { ready <- s }}

	buf := &bytes.Buffer{}
	cmd := newRootCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--port", "0", "--bind", "127.0.0.1", "--dir", dir, "--dbfilename", "snap.rdb"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	var srv *redisserver.Server
	select {
	case srv = <-ready:
	case err := <-done:
		t.Fatalf("command exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), Protocol: 2, DisableIdentity: true})
	defer client.Close()

	config, err := client.ConfigGet(ctx, "d*").Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"dir": dir, "dbfilename": "snap.rdb"}, config)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("command did not stop")
	}
	assert.Contains(t, buf.String(), "Ready to accept connections")
}

func TestRootCommandInvalidReplicaOf(t *testing.T) {
	cmd := newRootCommand(&ServerOptions{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--port", "0", "--replicaof", "localhost"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.ErrorIs(t, err, redisserver.ErrInvalidConfig)
}

func TestRootCommandRejectsArgs(t *testing.T) {
	cmd := newRootCommand(&ServerOptions{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})

	assert.Error(t, cmd.Execute())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "redis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFileConfig(t *testing.T) {
	path := writeConfig(t, `
port: 6380
bind: 127.0.0.1
dir: /var/lib/redis
dbfilename: data.rdb
replicaof: "localhost 6379"
admin-addr: ":9121"
verbose: true
params:
  appendonly: "no"
`)

	cfg, err := loadFileConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Port)
	assert.Equal(t, 6380, *cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Bind)
	assert.Equal(t, "/var/lib/redis", cfg.Dir)
	assert.Equal(t, "data.rdb", cfg.DBFilename)
	assert.Equal(t, "localhost 6379", cfg.ReplicaOf)
	assert.Equal(t, ":9121", cfg.AdminAddr)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, map[string]string{"appendonly": "no"}, cfg.Params)
}

func TestLoadFileConfigErrors(t *testing.T) {
	_, err := loadFileConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = loadFileConfig(writeConfig(t, "port: [1, 2"))
	assert.Error(t, err)

	_, err = loadFileConfig(writeConfig(t, "port: 70000"))
	assert.ErrorContains(t, err, "out of range")
}

func TestMergeExplicitFlagsWin(t *testing.T) {
	path := writeConfig(t, `
port: 7000
dir: /from/file
dbfilename: file.rdb
`)

	opts := &ServerOptions{}
	cmd := newRootCommand(opts)
	require.NoError(t, cmd.ParseFlags([]string{"--port", "7001", "--config", path}))

	cfg, err := loadFileConfig(path)
	require.NoError(t, err)
	opts.merge(cfg, cmd.Flags().Changed)

	assert.Equal(t, 7001, opts.Port, "explicit flag wins")
	assert.Equal(t, "/from/file", opts.Dir)
	assert.Equal(t, "file.rdb", opts.DBFilename)
	assert.Equal(t, "", opts.Bind)
}
