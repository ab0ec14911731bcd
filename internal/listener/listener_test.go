package listener

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/commandus/lorawan-storage-sub000/internal/dispatch"
	"github.com/commandus/lorawan-storage-sub000/internal/protocol"
	"github.com/commandus/lorawan-storage-sub000/internal/storage"
	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

func newHandler(t *testing.T) dispatch.Handler {
	t.Helper()
	mem, err := storage.NewMemoryIdentityService("")
	if err != nil {
		t.Fatal(err)
	}
	n := lorawan.NetworkIdentity{DevAddr: lorawan.DevAddr{0, 0, 0, 1}}
	n.DevEUI = lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}
	if err := mem.Put(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	return dispatch.NewIdentityDispatcher(mem, dispatch.Config{Code: 42, AccessCode: 42})
}

func countRequest(access uint64) []byte {
	return protocol.Marshal(&protocol.OperationRequest{
		Envelope: protocol.Envelope{Tag: protocol.TagCount, Code: 42, AccessCode: access},
	})
}

func decodeCount(t *testing.T, b []byte) *protocol.OperationResponse {
	t.Helper()
	resp, err := protocol.Binary.DecodeResponse(protocol.EntityIdentity, protocol.TagCount, b)
	if err != nil {
		t.Fatal(err)
	}
	return resp.(*protocol.OperationResponse)
}

type server interface {
	Serve(ctx context.Context) error
}

func serve(t *testing.T, s server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("listener did not stop")
		}
	})
}

func TestUDP(t *testing.T) {
	u, err := NewUDP("127.0.0.1:0", newHandler(t), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	serve(t, u)

	conn, err := net.Dial("udp", u.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	// 无效请求不应答，随后的有效请求仍然得到响应
	if _, err := conn.Write([]byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(countRequest(42)); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, MaxUDPPayload)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if resp := decodeCount(t, buf[:n]); resp.Response != 1 {
		t.Fatalf("count = %d, want 1", resp.Response)
	}
}

func TestTCP(t *testing.T) {
	l, err := NewTCP("127.0.0.1:0", newHandler(t), 0, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	serve(t, l)

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	if err := WriteFrame(conn, []byte{'z'}); err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(conn, countRequest(1)); err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(conn, countRequest(42)); err != nil {
		t.Fatal(err)
	}

	// the malformed frame is skipped, the next two are answered in order
	denied, err := ReadFrame(conn)
	if err != nil {
		t.Fatal(err)
	}
	if resp := decodeCount(t, denied); resp.Status() != protocol.StatusAccessDenied {
		t.Fatalf("status = %v, want access denied", resp.Status())
	}
	ok, err := ReadFrame(conn)
	if err != nil {
		t.Fatal(err)
	}
	if resp := decodeCount(t, ok); resp.Response != 1 {
		t.Fatalf("count = %d, want 1", resp.Response)
	}
}

func TestTCPIdleTimeout(t *testing.T) {
	l, err := NewTCP("127.0.0.1:0", newHandler(t), 0, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	serve(t, l)

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := ReadFrame(conn); err == nil {
		t.Fatal("expected the idle connection to be closed")
	}
}

func TestTCPConnAfterShutdown(t *testing.T) {
	l, err := NewTCP("127.0.0.1:0", newHandler(t), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	live, livePeer := net.Pipe()
	defer livePeer.Close()
	if !l.track(ctx, "live", live) {
		t.Fatal("connection rejected before shutdown")
	}

	cancel()
	late, latePeer := net.Pipe()
	defer latePeer.Close()
	if l.track(ctx, "late", late) {
		t.Fatal("connection registered after shutdown")
	}
	if _, ok := l.conns["late"]; ok {
		t.Fatal("late connection kept")
	}
	// the late connection is closed, so the peer sees EOF at once
	latePeer.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := latePeer.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("late peer read: err = %v, want EOF", err)
	}
}

func TestFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0, 3, 'a', 'b', 'c'}) {
		t.Fatalf("frame = %x", buf.Bytes())
	}
	got, err := ReadFrame(&buf)
	if err != nil || string(got) != "abc" {
		t.Fatalf("ReadFrame = %q, %v", got, err)
	}
	if err := WriteFrame(&buf, make([]byte, MaxFrameSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
	if _, err := ReadFrame(bytes.NewReader([]byte{0, 5, 1})); err == nil {
		t.Fatal("short frame accepted")
	}
}

func TestNATS(t *testing.T) {
	url := os.Getenv("LORAWAN_STORAGE_TEST_NATS")
	if url == "" {
		t.Skip("LORAWAN_STORAGE_TEST_NATS not set")
	}
	nc, err := ConnectNATS(url, "listener-test", 1)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	subject := "lorawan.storage.test." + time.Now().Format("150405.000000")
	serve(t, NewNATS(nc, subject, newHandler(t), 0))
	// let the subscription reach the server
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	msg, err := nc.Request(subject, countRequest(42), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp := decodeCount(t, msg.Data); resp.Response != 1 {
		t.Fatalf("count = %d, want 1", resp.Response)
	}
}
