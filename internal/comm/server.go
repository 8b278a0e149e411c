// Package comm implements the UDP transport: framing via internal/codec,
// per-sender request deduplication with cached-response retransmission,
// and a bounded fan-in queue handed off to the agent loop.
package comm

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/shelly-agent/shelly/internal/codec"
	"github.com/shelly-agent/shelly/pkg/safego"
)

// Config bounds the transport's resource usage; see spec.md §4.2/§5 and
// SPEC_FULL.md §2 for the corresponding SHELLY_* environment variables.
type Config struct {
	ListenAddr      string
	DedupCapacity   int           // per-sender entry cap, default 256
	DedupTTL        time.Duration // default 300s
	SweepInterval   time.Duration // default 30s
	MaxPayloadBytes int           // default 65536
	QueueCapacity   int           // default 1024
	AgentReplyWait  time.Duration // default 300s
}

// DefaultConfig returns the spec.md-mandated defaults.
func DefaultConfig(listenAddr string) Config {
	return Config{
		ListenAddr:      listenAddr,
		DedupCapacity:   256,
		DedupTTL:        300 * time.Second,
		SweepInterval:   30 * time.Second,
		MaxPayloadBytes: codec.MaxPayloadBytes,
		QueueCapacity:   1024,
		AgentReplyWait:  300 * time.Second,
	}
}

// InboundRequest is handed to the agent loop's consumer for each newly
// accepted (not a duplicate) request.
type InboundRequest struct {
	Content string
	Sender  *net.UDPAddr
	Seq     uint32
	Reply   chan *AgentReply
}

// AgentReply is the agent's answer to one InboundRequest, sent on the
// request's single-use Reply channel.
type AgentReply struct {
	Content string
	IsError bool
}

// Server owns the UDP socket, the dedup table, and the sweep loop. It
// does not know anything about the agent loop beyond the InboundRequest
// channel contract.
type Server struct {
	cfg    Config
	conn   *net.UDPConn
	dedup  *dedupTable
	queue  chan *InboundRequest
	logger *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer binds the UDP socket and prepares (but does not start) the
// receive and sweep loops.
func NewServer(cfg Config, logger *zap.Logger) (*Server, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("comm: resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("comm: bind udp socket: %w", err)
	}
	return &Server{
		cfg:    cfg,
		conn:   conn,
		dedup:  newDedupTable(cfg.DedupCapacity, cfg.DedupTTL),
		queue:  make(chan *InboundRequest, cfg.QueueCapacity),
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Requests returns the channel the agent loop should consume from.
func (s *Server) Requests() <-chan *InboundRequest {
	return s.queue
}

// LocalAddr returns the bound socket address (useful when ListenAddr used
// port 0, e.g. in tests).
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Serve runs the receive loop and the dedup sweep loop until ctx is
// cancelled or Close is called. It blocks until both loops have exited.
func (s *Server) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	sweepDone := make(chan struct{})
	safego.Go(s.logger, "comm-sweep", func() {
		defer close(sweepDone)
		s.sweepLoop(ctx)
	})

	s.recvLoop(ctx)
	<-sweepDone
	close(s.done)
}

// Close unblocks Serve and releases the socket.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.conn.Close()
}

// Wait blocks until Serve has fully returned.
func (s *Server) Wait() {
	<-s.done
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.dedup.sweep(now); n > 0 {
				s.logger.Debug("dedup sweep evicted entries", zap.Int("count", n))
			}
		}
	}
}

func (s *Server) recvLoop(ctx context.Context) {
	buf := make([]byte, codec.HeaderSize+s.cfg.MaxPayloadBytes+1)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Bound the read so we periodically re-check ctx.Done even if no
		// packets arrive.
		_ = s.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, sender, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Error("comm: recv failed", zap.Error(err))
				continue
			}
		}

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		safego.Go(s.logger, "comm-handle-request", func() {
			s.handlePacket(ctx, pkt, sender)
		})
	}
}

func (s *Server) handlePacket(ctx context.Context, pkt []byte, sender *net.UDPAddr) {
	if len(pkt) < codec.HeaderSize {
		s.logger.Warn("comm: dropping undersized packet", zap.Int("len", len(pkt)))
		return
	}
	if len(pkt)-codec.HeaderSize > s.cfg.MaxPayloadBytes {
		s.logger.Warn("comm: dropping oversized packet",
			zap.Int("payload_len", len(pkt)-codec.HeaderSize))
		return
	}

	typ, seq, err := codec.DecodeHeader(pkt)
	if err != nil {
		s.logger.Warn("comm: dropping malformed packet", zap.Error(err))
		return
	}
	if typ != codec.PacketRequest {
		s.logger.Warn("comm: dropping non-request packet", zap.String("type", typ.String()))
		return
	}

	senderKey := sender.String()

	entry, existed := s.dedup.lookupOrInsert(senderKey, seq)
	if existed {
		if entry.cached != nil {
			s.send(entry.cached, sender)
		} else {
			s.send(codec.EncodeRequestAck(seq), sender)
		}
		return
	}

	payload, err := codec.DecodeRequest(pkt[codec.HeaderSize:])
	if err != nil {
		s.logger.Warn("comm: dropping undecodable request payload", zap.Error(err))
		return
	}

	s.send(codec.EncodeRequestAck(seq), sender)

	reply := make(chan *AgentReply, 1)
	req := &InboundRequest{Content: payload.Content, Sender: sender, Seq: seq, Reply: reply}

	select {
	case s.queue <- req:
	default:
		s.logger.Error("comm: agent queue full, failing request",
			zap.String("sender", senderKey), zap.Uint32("seq", seq))
		s.finish(senderKey, seq, sender, &AgentReply{Content: "internal error: queue full", IsError: true})
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.AgentReplyWait)
	defer cancel()

	select {
	case r, ok := <-reply:
		if !ok {
			s.finish(senderKey, seq, sender, &AgentReply{Content: "internal error: agent channel closed", IsError: true})
			return
		}
		s.finish(senderKey, seq, sender, r)
	case <-waitCtx.Done():
		s.logger.Error("comm: timed out waiting for agent reply",
			zap.String("sender", senderKey), zap.Uint32("seq", seq))
		s.finish(senderKey, seq, sender, &AgentReply{Content: "internal error: agent timeout", IsError: true})
	}
}

func (s *Server) finish(senderKey string, seq uint32, sender *net.UDPAddr, reply *AgentReply) {
	respBytes, err := codec.EncodeResponse(seq, reply.Content, reply.IsError)
	if err != nil {
		s.logger.Error("comm: failed to encode response", zap.Error(err))
		return
	}
	if len(respBytes)-codec.HeaderSize > s.cfg.MaxPayloadBytes {
		s.logger.Warn("comm: response too large, sending error instead",
			zap.Int("encoded_len", len(respBytes)))
		respBytes, err = codec.EncodeResponse(seq, "internal error: response too large", true)
		if err != nil {
			s.logger.Error("comm: failed to encode fallback response", zap.Error(err))
			return
		}
	}
	s.send(respBytes, sender)
	s.dedup.storeCachedResponse(senderKey, seq, respBytes)
}

func (s *Server) send(pkt []byte, to *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP(pkt, to); err != nil {
		s.logger.Error("comm: send failed", zap.Error(err), zap.String("to", to.String()))
	}
}
