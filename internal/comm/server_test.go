package comm

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shelly-agent/shelly/internal/codec"
)

func testServer(t *testing.T) (*Server, *net.UDPConn) {
	t.Helper()
	cfg := DefaultConfig("127.0.0.1:0")
	cfg.AgentReplyWait = 2 * time.Second
	srv, err := NewServer(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		srv.Close()
		srv.Wait()
	})
	go srv.Serve(ctx)

	client, err := net.DialUDP("udp", nil, srv.LocalAddr())
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return srv, client
}

// stubAgent answers every request on the server's queue with a fixed
// response, mirroring a stub model in spec.md's S1 scenario.
func stubAgent(t *testing.T, srv *Server, content string, isError bool) chan int {
	t.Helper()
	calls := make(chan int, 64)
	go func() {
		n := 0
		for req := range srv.Requests() {
			n++
			calls <- n
			req.Reply <- &AgentReply{Content: content, IsError: isError}
		}
	}()
	return calls
}

func readPacket(t *testing.T, conn *net.UDPConn, timeout time.Duration) []byte {
	t.Helper()
	buf := make([]byte, 65536)
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out
}

func TestPlainEcho(t *testing.T) {
	srv, client := testServer(t)
	stubAgent(t, srv, "pong", false)

	req, err := codec.EncodeRequest(1, "ping")
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	if _, err := client.Write(req); err != nil {
		t.Fatalf("write: %v", err)
	}

	ack := readPacket(t, client, time.Second)
	typ, seq, err := codec.DecodeHeader(ack)
	if err != nil || typ != codec.PacketRequestAck || seq != 1 {
		t.Fatalf("ack = %v (err=%v), want RequestAck seq=1", ack, err)
	}

	resp := readPacket(t, client, time.Second)
	typ, seq, err = codec.DecodeHeader(resp)
	if err != nil || typ != codec.PacketResponse || seq != 1 {
		t.Fatalf("resp header = (%v,%d,%v), want Response seq=1", typ, seq, err)
	}
	payload, err := codec.DecodeResponse(resp[codec.HeaderSize:])
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if payload.Content != "pong" || payload.IsError {
		t.Fatalf("payload = %+v, want {pong false}", payload)
	}
}

func TestDedupReplay(t *testing.T) {
	srv, client := testServer(t)
	calls := stubAgent(t, srv, "pong", false)

	req, _ := codec.EncodeRequest(9, "ping")
	client.Write(req)
	readPacket(t, client, time.Second) // ack
	first := readPacket(t, client, time.Second)

	// Resend the identical packet; the server answers with the cached
	// Response alone, without a second ACK.
	client.Write(req)
	replay := readPacket(t, client, time.Second)

	typ, _, _ := codec.DecodeHeader(replay)
	if typ != codec.PacketResponse {
		t.Fatalf("resend reply type = %v, want Response (cached)", typ)
	}

	if string(first) != string(replay) {
		t.Fatalf("dedup replay bytes differ: %x vs %x", first, replay)
	}

	select {
	case n := <-calls:
		if n != 1 {
			t.Fatalf("unexpected extra agent call #%d", n)
		}
	case <-time.After(200 * time.Millisecond):
	}
	select {
	case n := <-calls:
		t.Fatalf("agent invoked a second time (#%d) for a duplicate request", n)
	default:
	}
}

func TestOversizeDatagramDropped(t *testing.T) {
	srv, client := testServer(t)
	stubAgent(t, srv, "pong", false)

	oversized := codec.Encode(codec.PacketRequest, 3, make([]byte, codec.MaxPayloadBytes+1))
	client.Write(oversized)

	// No ACK/Response should arrive for the oversize packet.
	buf := make([]byte, 1024)
	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := client.Read(buf); err == nil {
		t.Fatalf("expected no reply to oversize datagram, got one")
	}

	// Server must remain responsive to a normal follow-up request.
	req, _ := codec.EncodeRequest(4, "ping")
	client.Write(req)
	ack := readPacket(t, client, time.Second)
	typ, seq, err := codec.DecodeHeader(ack)
	if err != nil || typ != codec.PacketRequestAck || seq != 4 {
		t.Fatalf("server did not respond to follow-up request: %v %v %v", typ, seq, err)
	}
}

func TestCapacityEviction(t *testing.T) {
	d := newDedupTable(4, time.Hour)
	for seq := uint32(0); seq < 10; seq++ {
		d.lookupOrInsert("client", seq)
	}
	if n := d.senderCount("client"); n != 4 {
		t.Fatalf("sender entry count = %d, want 4", n)
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	d := newDedupTable(256, 10*time.Millisecond)
	d.lookupOrInsert("client", 1)
	time.Sleep(20 * time.Millisecond)
	d.sweep(time.Now())
	if n := d.senderCount("client"); n != 0 {
		t.Fatalf("sender entry count after sweep = %d, want 0", n)
	}
}
