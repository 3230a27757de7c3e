package config

import (
	"github.com/danmuck/pgasnet/internal/node"
	"github.com/danmuck/pgasnet/internal/transport"
)

func (g GroupConfig) NodeMembers() []node.Member {
	out := make([]node.Member, 0, len(g.Members))
	for _, m := range g.Members {
		out = append(out, node.Member{Thread: node.ThreadID(m.Thread), Node: node.NodeID(m.Node)})
	}
	return out
}

func (c NodeConfig) ThreadIDs() []node.ThreadID {
	out := make([]node.ThreadID, 0, len(c.Threads))
	for _, th := range c.Threads {
		out = append(out, node.ThreadID(th))
	}
	return out
}

func (c NodeConfig) Transport() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.ConnectTimeout = c.ConnectTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.DialAttempts = c.DialAttempts
	cfg.ChunkSize = c.ChunkSize
	return cfg.WithDefaults()
}
