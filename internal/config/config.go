// Package config loads the TOML description of one node: where it listens,
// which peers and groups it knows and which threads it hosts.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
)

var ErrInvalidConfig = errors.New("config: invalid")

type NodeConfig struct {
	NodeID         int32
	ListenAddr     string
	MetricsAddr    string
	MetricsToken   string
	ChunkSize      int
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	DialAttempts   int
	Threads        []int32
	Peers          []PeerConfig
	Groups         []GroupConfig
}

type PeerConfig struct {
	ID   int32  `toml:"id"`
	Addr string `toml:"addr"`
}

type GroupConfig struct {
	ID      int32          `toml:"id"`
	Name    string         `toml:"name"`
	Members []MemberConfig `toml:"members"`
}

// MemberConfig places global thread Thread on node Node. A group's member
// list is indexed by group-local thread id.
type MemberConfig struct {
	Thread int32 `toml:"thread"`
	Node   int32 `toml:"node"`
}

func DefaultConfig() NodeConfig {
	return NodeConfig{
		NodeID:         0,
		ListenAddr:     "127.0.0.1:7400",
		MetricsAddr:    "",
		ChunkSize:      8 * 1024,
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   15 * time.Second,
		DialAttempts:   5,
	}
}

type fileConfig struct {
	NodeID         int32         `toml:"node_id"`
	ListenAddr     string        `toml:"listen_addr"`
	MetricsAddr    string        `toml:"metrics_addr"`
	MetricsToken   string        `toml:"metrics_token"`
	ChunkSize      int           `toml:"chunk_size"`
	ConnectTimeout string        `toml:"connect_timeout"`
	WriteTimeout   string        `toml:"write_timeout"`
	DialAttempts   int           `toml:"dial_attempts"`
	Threads        []int32       `toml:"threads"`
	Peers          []PeerConfig  `toml:"peers"`
	Groups         []GroupConfig `toml:"groups"`
}

// Load reads path over DefaultConfig and validates the result.
func Load(path string) (NodeConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("load node config: %w", err)
	}
	cfg, err := apply(DefaultConfig(), raw, meta)
	if err != nil {
		return NodeConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

// Parse is Load for in-memory TOML.
func Parse(data string) (NodeConfig, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("parse node config: %w", err)
	}
	cfg, err := apply(DefaultConfig(), raw, meta)
	if err != nil {
		return NodeConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func apply(cfg NodeConfig, raw fileConfig, meta toml.MetaData) (NodeConfig, error) {
	if meta.IsDefined("node_id") {
		cfg.NodeID = raw.NodeID
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("metrics_token") {
		cfg.MetricsToken = strings.TrimSpace(raw.MetricsToken)
	}
	if meta.IsDefined("chunk_size") {
		cfg.ChunkSize = raw.ChunkSize
	}
	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return NodeConfig{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return NodeConfig{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.WriteTimeout = d
	}
	if meta.IsDefined("dial_attempts") {
		cfg.DialAttempts = raw.DialAttempts
	}
	if meta.IsDefined("threads") {
		cfg.Threads = append([]int32(nil), raw.Threads...)
	}
	if meta.IsDefined("peers") {
		cfg.Peers = raw.Peers
		for i := range cfg.Peers {
			cfg.Peers[i].Addr = strings.TrimSpace(cfg.Peers[i].Addr)
		}
	}
	if meta.IsDefined("groups") {
		cfg.Groups = raw.Groups
	}
	return cfg, nil
}

// Validate reports every problem found, combined.
func (c NodeConfig) Validate() error {
	var err error
	if c.ListenAddr == "" {
		err = multierr.Append(err, fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig))
	}
	if c.ChunkSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.ChunkSize))
	}
	if c.DialAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: dial_attempts must be positive, got %d", ErrInvalidConfig, c.DialAttempts))
	}

	known := map[int32]struct{}{c.NodeID: {}}
	for _, p := range c.Peers {
		if p.ID == c.NodeID {
			err = multierr.Append(err, fmt.Errorf("%w: peer %d is the local node", ErrInvalidConfig, p.ID))
			continue
		}
		if _, dup := known[p.ID]; dup {
			err = multierr.Append(err, fmt.Errorf("%w: peer %d listed twice", ErrInvalidConfig, p.ID))
			continue
		}
		if p.Addr == "" {
			err = multierr.Append(err, fmt.Errorf("%w: peer %d has no addr", ErrInvalidConfig, p.ID))
		}
		known[p.ID] = struct{}{}
	}

	hosted := make(map[int32]struct{}, len(c.Threads))
	for _, th := range c.Threads {
		if _, dup := hosted[th]; dup {
			err = multierr.Append(err, fmt.Errorf("%w: thread %d listed twice", ErrInvalidConfig, th))
		}
		hosted[th] = struct{}{}
	}

	groups := make(map[int32]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		if _, dup := groups[g.ID]; dup {
			err = multierr.Append(err, fmt.Errorf("%w: group %d listed twice", ErrInvalidConfig, g.ID))
		}
		groups[g.ID] = struct{}{}
		if len(g.Members) == 0 {
			err = multierr.Append(err, fmt.Errorf("%w: group %d has no members", ErrInvalidConfig, g.ID))
		}
		for _, m := range g.Members {
			if _, ok := known[m.Node]; !ok {
				err = multierr.Append(err, fmt.Errorf("%w: group %d member on unknown node %d", ErrInvalidConfig, g.ID, m.Node))
			}
			if m.Node == c.NodeID {
				if _, ok := hosted[m.Thread]; !ok {
					err = multierr.Append(err, fmt.Errorf("%w: group %d places thread %d here but it is not in threads", ErrInvalidConfig, g.ID, m.Thread))
				}
			}
		}
	}
	return err
}
