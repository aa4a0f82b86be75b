package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"

	// Register all transports, including inproc for single-process runs.
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/telecom-txcore/pkg/logging"
	"github.com/dd0wney/telecom-txcore/pkg/metrics"
	"github.com/dd0wney/telecom-txcore/pkg/topology"
)

// AddrFunc maps a node to its socket address. Single-process simulations use
// inproc:// addresses; nothing in this package assumes a real network.
type AddrFunc func(node topology.NodeID) string

// InprocAddrs returns an AddrFunc over inproc endpoints with the given
// namespace prefix.
func InprocAddrs(prefix string) AddrFunc {
	return func(node topology.NodeID) string {
		return fmt.Sprintf("inproc://%s-%s", prefix, node)
	}
}

// SocketRPC is an RPC implementation over mangos req/rep sockets. One req
// socket is dialed lazily per target and reused.
type SocketRPC struct {
	addrs   AddrFunc
	mu      sync.Mutex
	sockets map[topology.NodeID]mangos.Socket
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewSocketRPC creates a socket-backed RPC client. The metrics registry may
// be nil.
func NewSocketRPC(addrs AddrFunc, logger logging.Logger, reg *metrics.Registry) *SocketRPC {
	if logger == nil {
		logger = logging.Nop()
	}
	return &SocketRPC{
		addrs:   addrs,
		sockets: make(map[topology.NodeID]mangos.Socket),
		logger:  logger.With(logging.Component("transport")),
		metrics: reg,
	}
}

// Send encodes msg, performs one req/rep round trip with the target, and
// decodes the reply. The context deadline bounds both send and receive.
func (s *SocketRPC) Send(ctx context.Context, target topology.NodeID, msg Message) (Response, error) {
	sock, err := s.socketFor(target)
	if err != nil {
		return Response{}, err
	}

	deadline := time.Minute
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
		if deadline <= 0 {
			return Response{}, ErrTimeout
		}
	}
	sock.SetOption(mangos.OptionSendDeadline, deadline)
	sock.SetOption(mangos.OptionRecvDeadline, deadline)

	frame, err := EncodeMessage(msg)
	if err != nil {
		return Response{}, err
	}
	recordFrame(s.metrics, frame)
	if err := sock.Send(frame); err != nil {
		return Response{}, fmt.Errorf("send to %s: %w", target, err)
	}

	reply, err := sock.Recv()
	if err != nil {
		if err == mangos.ErrRecvTimeout {
			return Response{}, ErrTimeout
		}
		return Response{}, fmt.Errorf("recv from %s: %w", target, err)
	}
	recordFrame(s.metrics, reply)
	return DecodeResponse(reply)
}

// Close shuts down all dialed sockets.
func (s *SocketRPC) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for node, sock := range s.sockets {
		if err := sock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.sockets, node)
	}
	return firstErr
}

func (s *SocketRPC) socketFor(target topology.NodeID) (mangos.Socket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sock, ok := s.sockets[target]; ok {
		return sock, nil
	}
	sock, err := req.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create req socket: %w", err)
	}
	if err := sock.Dial(s.addrs(target)); err != nil {
		sock.Close()
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	s.sockets[target] = sock
	return sock, nil
}

// Responder serves one node's end of the req/rep protocol: it listens on the
// node's address and answers every request through the registered handler.
type Responder struct {
	node    topology.NodeID
	sock    mangos.Socket
	handler Handler
	logger  logging.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewResponder creates and starts a responder for node.
func NewResponder(node topology.NodeID, addrs AddrFunc, handler Handler, logger logging.Logger) (*Responder, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	sock, err := rep.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create rep socket: %w", err)
	}
	if err := sock.Listen(addrs(node)); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen on %s: %w", node, err)
	}

	r := &Responder{
		node:    node,
		sock:    sock,
		handler: handler,
		logger:  logger.With(logging.Component("transport"), logging.Node(string(node))),
		stopCh:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.serve()
	return r, nil
}

func (r *Responder) serve() {
	defer r.wg.Done()
	r.sock.SetOption(mangos.OptionRecvDeadline, 250*time.Millisecond)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}

		frame, err := r.sock.Recv()
		if err != nil {
			if err == mangos.ErrRecvTimeout {
				continue
			}
			return
		}

		msg, err := DecodeMessage(frame)
		if err != nil {
			r.logger.Warn("dropping undecodable frame", logging.Error(err))
			continue
		}

		resp, err := r.handler(msg)
		if err != nil {
			resp = Response{InReplyTo: msg.ID, From: r.node, OK: false, Detail: err.Error()}
		}
		reply, err := EncodeResponse(resp)
		if err != nil {
			r.logger.Error("failed to encode response", logging.Error(err))
			continue
		}
		if err := r.sock.Send(reply); err != nil {
			r.logger.Warn("failed to send response", logging.Error(err))
		}
	}
}

// Close stops the responder and releases its socket.
func (r *Responder) Close() error {
	close(r.stopCh)
	err := r.sock.Close()
	r.wg.Wait()
	return err
}
