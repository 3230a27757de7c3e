// Package server runs one node: the framed TCP listener, the loopback and
// peer transports, the group directory, thread storage and an optional
// metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/pgasnet/internal/codec"
	"github.com/danmuck/pgasnet/internal/config"
	"github.com/danmuck/pgasnet/internal/node"
	"github.com/danmuck/pgasnet/internal/observability"
	"github.com/danmuck/pgasnet/internal/protocol/message"
	"github.com/danmuck/pgasnet/internal/transport"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Service struct {
	cfg      config.NodeConfig
	env      *message.Env
	table    *transport.Table
	groups   *node.Directory
	storages *node.StorageSet
	codec    *codec.CBOR
	appeared time.Time

	// peers dial lazily; their read loops live until Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService builds the node described by cfg. Nothing is dialed or bound
// until the first send or Serve.
func NewService(cfg config.NodeConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	self := node.NodeID(cfg.NodeID)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:      cfg,
		groups:   node.NewDirectory(),
		storages: node.NewStorageSet(cfg.ThreadIDs()...),
		codec:    codec.NewCBOR(),
		appeared: time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, g := range cfg.Groups {
		group, err := node.NewTreeGroup(g.ID, g.Name, self, g.NodeMembers())
		if err != nil {
			cancel()
			return nil, err
		}
		s.groups.Put(group)
	}
	s.env = &message.Env{
		Node:      self,
		Groups:    s.groups,
		Storages:  s.storages,
		Codec:     s.codec,
		Requests:  message.NewRequests(),
		ChunkSize: cfg.ChunkSize,
	}
	s.table = transport.NewTable(self, s.env)
	s.env.Transports = s.table
	tcfg := cfg.Transport()
	for _, p := range cfg.Peers {
		if err := s.table.AddPeer(transport.NewPeer(ctx, node.NodeID(p.ID), p.Addr, s.env, tcfg)); err != nil {
			cancel()
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) Env() *message.Env {
	return s.env
}

func (s *Service) Storages() *node.StorageSet {
	return s.storages
}

func (s *Service) Codec() *codec.CBOR {
	return s.codec
}

// Broadcast sends value to every member of group groupID.
func (s *Service) Broadcast(ctx context.Context, groupID, requester int32, storageName, name string, value any) error {
	return message.Broadcast(ctx, s.env, groupID, requester, storageName, name, value)
}

// Put writes value into group-local thread target and waits for the ack.
func (s *Service) Put(ctx context.Context, groupID, requester int32, target node.ThreadID, storageName, name string, value any) error {
	return message.Put(ctx, s.env, groupID, requester, target, storageName, name, value)
}

// Run binds the configured addresses and serves until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Int("peers", len(s.cfg.Peers)).
		Int("groups", len(s.cfg.Groups)).
		Int("threads", len(s.cfg.Threads)).
		Msg("server.Service.Run listening")
	return s.Serve(ctx, ln)
}

// Serve accepts node connections on ln and, when configured, serves metrics
// until ctx is done.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return transport.NewListener(s.env, s.cfg.Transport()).Serve(ctx, ln)
	})
	if s.cfg.MetricsAddr != "" {
		observability.RegisterMetrics()
		srv := &http.Server{
			Addr:              s.cfg.MetricsAddr,
			Handler:           s.routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", s.cfg.MetricsAddr).Msg("server.metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// Flush waits until every queued outbound message has been written or
// dropped.
func (s *Service) Flush(ctx context.Context) error {
	return s.table.Flush(ctx)
}

// Close drops every peer connection.
func (s *Service) Close() error {
	s.cancel()
	return s.table.Close()
}
