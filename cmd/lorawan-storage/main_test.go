package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/commandus/lorawan-storage-sub000/internal/client"
	"github.com/commandus/lorawan-storage-sub000/internal/config"
	"github.com/commandus/lorawan-storage-sub000/internal/protocol"
)

func TestApplyFlags(t *testing.T) {
	o, fs, err := parseFlags([]string{"-listen", "127.0.0.1:5000", "-code", "42", "-access-code", "2a", "-backend", "gen", "-v", "-v"})
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Auth.Code = 1
	if err := applyFlags(cfg, o, fs); err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.Code != 42 || cfg.Auth.AccessCode != 42 || cfg.Storage.Backend != "gen" {
		t.Fatalf("cfg = %+v %+v", cfg.Auth, cfg.Storage)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0].Address != "127.0.0.1:5000" || cfg.Listeners[0].Network != "udp" {
		t.Fatalf("listeners = %+v", cfg.Listeners)
	}
	if cfg.Log.Level != "trace" {
		t.Fatalf("level = %q", cfg.Log.Level)
	}
}

func TestApplyFlagsKeepsConfig(t *testing.T) {
	o, fs, err := parseFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Auth.Code = 7
	if err := applyFlags(cfg, o, fs); err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.Code != 7 || cfg.Log.Level != "info" {
		t.Fatalf("unset flags changed the config: %+v %+v", cfg.Auth, cfg.Log)
	}
}

func TestApplyFlagsBadAccessCode(t *testing.T) {
	o, fs, err := parseFlags([]string{"-access-code", "zz"})
	if err != nil {
		t.Fatal(err)
	}
	if err := applyFlags(config.Default(), o, fs); err == nil {
		t.Fatal("expected an error")
	}
}

func freeUDPAddr(t *testing.T) string {
	t.Helper()
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := c.LocalAddr().String()
	c.Close()
	return addr
}

func TestRun(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Code = 42
	cfg.Auth.AccessCode = 42
	cfg.Storage.Backend = "gen"
	cfg.Storage.NetID = "000000"
	cfg.Storage.MasterKey = "test"
	addr := freeUDPAddr(t)
	cfg.Listeners = []config.ListenerConfig{{Service: "identity", Network: "udp", Address: addr}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg) }()

	c, err := client.Dial(context.Background(), "udp", addr, protocol.EntityIdentity, 500*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var resp protocol.Message
	req := &protocol.OperationRequest{Envelope: protocol.Envelope{Tag: protocol.TagCount, Code: 42, AccessCode: 42}}
	// the listener may not be bound yet
	for i := 0; i < 20; i++ {
		if resp, err = c.Do(ctx, req); err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("no answer: %v", err)
	}
	if n := resp.(*protocol.OperationResponse).Response; n <= 0 {
		t.Fatalf("count = %d", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "nope"
	if err := run(context.Background(), cfg); err == nil {
		t.Fatal("expected an error")
	}
}
