package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/pgasnet/internal/config"
	"github.com/danmuck/pgasnet/internal/node"
	"github.com/danmuck/pgasnet/internal/testutil/testlog"
)

// startPair runs two nodes sharing group 0: node 0 hosts threads 0 and 1,
// node 1 hosts thread 2.
func startPair(t *testing.T) (*Service, *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	lns := make([]net.Listener, 2)
	for i := range lns {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		lns[i] = ln
	}
	group := config.GroupConfig{ID: 0, Name: "global", Members: []config.MemberConfig{
		{Thread: 0, Node: 0},
		{Thread: 1, Node: 0},
		{Thread: 2, Node: 1},
	}}
	threads := [][]int32{{0, 1}, {2}}

	svcs := make([]*Service, 2)
	for i := range svcs {
		cfg := config.DefaultConfig()
		cfg.NodeID = int32(i)
		cfg.ListenAddr = lns[i].Addr().String()
		cfg.Threads = threads[i]
		cfg.Groups = []config.GroupConfig{group}
		other := 1 - i
		cfg.Peers = []config.PeerConfig{{ID: int32(other), Addr: lns[other].Addr().String()}}
		svc, err := NewService(cfg)
		if err != nil {
			t.Fatalf("new service: %v", err)
		}
		go func() { _ = svc.Serve(ctx, lns[i]) }()
		svcs[i] = svc
	}
	return svcs[0], svcs[1]
}

func TestServiceBroadcastAndPut(t *testing.T) {
	testlog.Start(t)
	a, b := startPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := b.Broadcast(ctx, 0, 2, "S", "x", []string{"p", "q"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		v0, ok0 := a.Storages().Host(0).Get("S", "x")
		v2, ok2 := b.Storages().Host(2).Get("S", "x")
		if ok0 && ok2 {
			if v0.([]string)[1] != "q" || v2.([]string)[0] != "p" {
				t.Fatalf("unexpected values %v %v", v0, v2)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for broadcast")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := a.Put(ctx, 0, 0, node.ThreadID(2), "S", "y", 3.5); err != nil {
		t.Fatalf("put: %v", err)
	}
	if v, _ := b.Storages().Host(2).Get("S", "y"); v != 3.5 {
		t.Fatalf("expected 3.5, got %v", v)
	}
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ChunkSize = 0
	if _, err := NewService(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestHealthRoute(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultConfig()
	cfg.Threads = []int32{0}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Close()

	rec := httptest.NewRecorder()
	svc.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}

	rec = httptest.NewRecorder()
	svc.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rec.Code)
	}
}

func TestRoutesRequireTokenWhenConfigured(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultConfig()
	cfg.MetricsToken = "tok"
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Close()

	rec := httptest.NewRecorder()
	svc.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	svc.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}
