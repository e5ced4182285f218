// Package config loads Config.toml, the settings file shared by every
// Sustenet role, using Viper the way randybias-nightcrier's
// internal/config/tuning.go configures a per-file Viper instance.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

const (
	defaultMasterPort  = 6256
	defaultClusterPort = 6257
	defaultIP          = "127.0.0.1"
	defaultKeyName     = "cluster_key"
)

// All holds the [all] table shared by every role.
type All struct {
	ServerName     string
	MaxConnections uint32
	Port           uint16
}

// Cluster holds the [cluster] table read only by the Cluster role.
type Cluster struct {
	KeyName      string
	MasterIP     string
	MasterPort   uint16
	DomainPubKey string // empty if absent
}

// MasterConfig is the Master executable's settings.
type MasterConfig struct {
	All All
}

// ClusterConfig is the Cluster executable's settings.
type ClusterConfig struct {
	All     All
	Cluster Cluster
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("toml")
	explicit := path != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("Config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound)
		if !missing && explicit {
			if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
				missing = true
			}
		}
		if !missing {
			return nil, fmt.Errorf("config: reading Config.toml: %w", err)
		}
		// Absent file: every role falls back to its documented defaults,
		// matching the original's "expect" on a builder that still
		// tolerates missing individual keys.
	}
	return v, nil
}

// LoadMaster reads Config.toml (or path, if non-empty) for the Master role.
// Normalizes the original's all.max_connections key for both roles (see
// DESIGN.md, Open Question 5).
func LoadMaster(path string) (*MasterConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	serverName := v.GetString("all.server_name")
	if serverName == "" {
		serverName = "Master Server"
	}
	port := uint16(v.GetUint("all.port"))
	if port == 0 {
		port = defaultMasterPort
	}
	return &MasterConfig{
		All: All{
			ServerName:     serverName,
			MaxConnections: uint32(v.GetUint("all.max_connections")),
			Port:           port,
		},
	}, nil
}

// LoadCluster reads Config.toml (or path, if non-empty) for the Cluster role.
func LoadCluster(path string) (*ClusterConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	serverName := v.GetString("all.server_name")
	if serverName == "" {
		serverName = "Cluster Server"
	}

	port := uint16(v.GetUint("all.port"))
	if port == 0 {
		port = defaultClusterPort
	}

	masterIP := v.GetString("cluster.master_ip")
	if masterIP == "" {
		masterIP = defaultIP
	}

	masterPort := uint16(v.GetUint("cluster.master_port"))
	if masterPort == 0 {
		masterPort = defaultMasterPort
	}

	keyName := v.GetString("cluster.key_name")
	if keyName == "" {
		keyName = defaultKeyName
	}

	return &ClusterConfig{
		All: All{
			ServerName:     serverName,
			MaxConnections: uint32(v.GetUint("all.max_connections")),
			Port:           port,
		},
		Cluster: Cluster{
			KeyName:      keyName,
			MasterIP:     masterIP,
			MasterPort:   masterPort,
			DomainPubKey: v.GetString("cluster.domain_pub_key"),
		},
	}, nil
}
