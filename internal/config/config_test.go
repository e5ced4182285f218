package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "Config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMasterDefaultsOnMissingPort(t *testing.T) {
	path := writeConfig(t, `
[all]
server_name = "Test Master"
max_connections = 50
`)
	cfg, err := LoadMaster(path)
	require.NoError(t, err)
	require.Equal(t, "Test Master", cfg.All.ServerName)
	require.EqualValues(t, 50, cfg.All.MaxConnections)
	require.EqualValues(t, defaultMasterPort, cfg.All.Port)
}

func TestLoadClusterDefaults(t *testing.T) {
	path := writeConfig(t, `
[all]
server_name = "My Cluster"
`)
	cfg, err := LoadCluster(path)
	require.NoError(t, err)
	require.Equal(t, "My Cluster", cfg.All.ServerName)
	require.EqualValues(t, defaultClusterPort, cfg.All.Port)
	require.Equal(t, defaultKeyName, cfg.Cluster.KeyName)
	require.Equal(t, defaultIP, cfg.Cluster.MasterIP)
	require.EqualValues(t, defaultMasterPort, cfg.Cluster.MasterPort)
	require.Empty(t, cfg.Cluster.DomainPubKey)
}

func TestLoadClusterExplicitValues(t *testing.T) {
	path := writeConfig(t, `
[all]
server_name = "Explicit Cluster"
max_connections = 10
port = 9000

[cluster]
key_name = "my_key"
master_ip = "10.0.0.5"
master_port = 7000
domain_pub_key = "pub123"
`)
	cfg, err := LoadCluster(path)
	require.NoError(t, err)
	require.EqualValues(t, 9000, cfg.All.Port)
	require.EqualValues(t, 10, cfg.All.MaxConnections)
	require.Equal(t, "my_key", cfg.Cluster.KeyName)
	require.Equal(t, "10.0.0.5", cfg.Cluster.MasterIP)
	require.EqualValues(t, 7000, cfg.Cluster.MasterPort)
	require.Equal(t, "pub123", cfg.Cluster.DomainPubKey)
}

func TestLoadMasterMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadMaster(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, "Master Server", cfg.All.ServerName)
	require.EqualValues(t, defaultMasterPort, cfg.All.Port)
}
