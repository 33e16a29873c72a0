package distributed

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by collectives on a closed group.
var ErrClosed = errors.New("distributed: group is closed")

const (
	msgHello  = "hello"
	msgReady  = "ready"
	msgGather = "gather"
	msgBundle = "bundle"

	barrierName = "__barrier"

	// maxFrameSize bounds a single message so a corrupt length prefix
	// cannot trigger a huge allocation.
	maxFrameSize = 64 << 20

	dialRetryInterval = 200 * time.Millisecond
)

// message is one frame on the wire. Payload carries the rank's vector for
// gather messages and the rank-ordered bundle for bundle messages.
type message struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	Name    string          `json:"name,omitempty"`
	Rank    int             `json:"rank"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (m *message) expect(typ string, seq uint64, name string) error {
	if m.Type != typ || m.Seq != seq || m.Name != name {
		return fmt.Errorf("distributed: rank %d sent %s %q seq %d, want %s %q seq %d",
			m.Rank, m.Type, m.Name, m.Seq, typ, name, seq)
	}
	return nil
}

// TCPGroup synchronizes ranks over plain TCP. Rank 0 listens on the
// coordinator address and the other ranks dial it. Each collective is one
// round: every rank sends its vector to rank 0, rank 0 assembles the
// rank-ordered bundle and broadcasts it back.
//
// A failed or cancelled collective leaves the connections in an undefined
// state; the group must be closed and rebuilt.
type TCPGroup struct {
	rank      int
	worldSize int

	mu     sync.Mutex
	seq    uint64
	closed bool

	coord net.Conn   // ranks > 0: connection to rank 0
	peers []net.Conn // rank 0: indexed by rank, [0] is nil
}

// NewTCPGroup forms the group described by cfg. It blocks until every rank
// has joined: rank 0 listens and accepts the others, ranks > 0 dial the
// coordinator with retries until DialTimeout.
func NewTCPGroup(ctx context.Context, cfg Config) (*TCPGroup, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.WorldSize < 2 {
		return nil, errors.New("distributed: TCP group needs a world size of at least 2")
	}
	if cfg.Rank != 0 {
		return newFollower(ctx, cfg)
	}
	ln, err := net.Listen("tcp", cfg.Coordinator)
	if err != nil {
		return nil, fmt.Errorf("distributed: listen on %s: %w", cfg.Coordinator, err)
	}
	return newCoordinator(ctx, cfg, ln)
}

// newCoordinator accepts ranks 1..worldSize-1 on ln, then releases them
// all with a ready message. It closes ln before returning.
func newCoordinator(ctx context.Context, cfg Config, ln net.Listener) (*TCPGroup, error) {
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	peers := make([]net.Conn, cfg.WorldSize)
	closeAll := func() {
		for _, c := range peers {
			if c != nil {
				c.Close()
			}
		}
	}

	for joined := 0; joined < cfg.WorldSize-1; {
		conn, err := ln.Accept()
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("distributed: accept: %w", ctxErr(ctx, err))
		}
		release := armCancel(ctx, conn)
		hello, err := readFrame(conn)
		release()
		if err != nil {
			conn.Close()
			closeAll()
			return nil, fmt.Errorf("distributed: handshake: %w", ctxErr(ctx, err))
		}
		if hello.Type != msgHello {
			conn.Close()
			closeAll()
			return nil, fmt.Errorf("distributed: expected hello, got %s", hello.Type)
		}
		if hello.Rank < 1 || hello.Rank >= cfg.WorldSize {
			conn.Close()
			closeAll()
			return nil, fmt.Errorf("distributed: hello from rank %d outside world of %d", hello.Rank, cfg.WorldSize)
		}
		if peers[hello.Rank] != nil {
			conn.Close()
			closeAll()
			return nil, fmt.Errorf("distributed: duplicate hello from rank %d", hello.Rank)
		}
		peers[hello.Rank] = conn
		joined++
	}

	for rank := 1; rank < cfg.WorldSize; rank++ {
		if err := writeFrame(peers[rank], &message{Type: msgReady, Rank: 0}); err != nil {
			closeAll()
			return nil, fmt.Errorf("distributed: release rank %d: %w", rank, err)
		}
	}

	return &TCPGroup{rank: 0, worldSize: cfg.WorldSize, peers: peers}, nil
}

func newFollower(ctx context.Context, cfg Config) (*TCPGroup, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)

	var dialer net.Dialer
	var conn net.Conn
	for {
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Coordinator)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("distributed: dial coordinator %s: %w", cfg.Coordinator, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialRetryInterval):
		}
	}

	release := armCancel(ctx, conn)
	defer release()

	if err := writeFrame(conn, &message{Type: msgHello, Rank: cfg.Rank}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("distributed: hello: %w", ctxErr(ctx, err))
	}
	ready, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("distributed: wait for ready: %w", ctxErr(ctx, err))
	}
	if ready.Type != msgReady {
		conn.Close()
		return nil, fmt.Errorf("distributed: expected ready, got %s", ready.Type)
	}

	return &TCPGroup{rank: cfg.Rank, worldSize: cfg.WorldSize, coord: conn}, nil
}

func (g *TCPGroup) Rank() int      { return g.rank }
func (g *TCPGroup) WorldSize() int { return g.worldSize }

func (g *TCPGroup) AllGatherFloat32(ctx context.Context, name string, values []float32) ([][]float32, error) {
	return allGather(ctx, g, name, values)
}

func (g *TCPGroup) AllGatherInt64(ctx context.Context, name string, values []int64) ([][]int64, error) {
	return allGather(ctx, g, name, values)
}

func (g *TCPGroup) Barrier(ctx context.Context) error {
	_, err := g.round(ctx, barrierName, nil)
	return err
}

func (g *TCPGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true

	var first error
	if g.coord != nil {
		first = g.coord.Close()
	}
	for _, conn := range g.peers {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func allGather[T any](ctx context.Context, g *TCPGroup, name string, values []T) ([][]T, error) {
	own, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("distributed: encode %q: %w", name, err)
	}
	parts, err := g.round(ctx, name, own)
	if err != nil {
		return nil, err
	}
	gathered := make([][]T, len(parts))
	for rank, part := range parts {
		if len(part) == 0 {
			continue
		}
		if err := json.Unmarshal(part, &gathered[rank]); err != nil {
			return nil, fmt.Errorf("distributed: decode %q from rank %d: %w", name, rank, err)
		}
	}
	return gathered, nil
}

// round runs one named collective and returns the rank-ordered payloads.
// Rounds are serialized per group; the sequence number advances in
// lockstep on every rank and mismatches are protocol errors.
func (g *TCPGroup) round(ctx context.Context, name string, own json.RawMessage) ([]json.RawMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, ErrClosed
	}
	g.seq++
	if g.rank == 0 {
		return g.coordinate(ctx, g.seq, name, own)
	}
	return g.follow(ctx, g.seq, name, own)
}

func (g *TCPGroup) coordinate(ctx context.Context, seq uint64, name string, own json.RawMessage) ([]json.RawMessage, error) {
	parts := make([]json.RawMessage, g.worldSize)
	parts[0] = own

	eg, gatherCtx := errgroup.WithContext(ctx)
	for rank := 1; rank < g.worldSize; rank++ {
		conn := g.peers[rank]
		want := rank
		eg.Go(func() error {
			release := armCancel(gatherCtx, conn)
			defer release()
			msg, err := readFrame(conn)
			if err != nil {
				return fmt.Errorf("distributed: gather from rank %d: %w", want, ctxErr(gatherCtx, err))
			}
			if err := msg.expect(msgGather, seq, name); err != nil {
				return err
			}
			if msg.Rank != want {
				return fmt.Errorf("distributed: rank %d answered on rank %d's connection", msg.Rank, want)
			}
			parts[want] = msg.Payload
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	bundle, err := json.Marshal(parts)
	if err != nil {
		return nil, fmt.Errorf("distributed: encode bundle %q: %w", name, err)
	}
	bcast := &message{Type: msgBundle, Seq: seq, Name: name, Rank: 0, Payload: bundle}

	var wg errgroup.Group
	for rank := 1; rank < g.worldSize; rank++ {
		conn := g.peers[rank]
		want := rank
		wg.Go(func() error {
			if err := writeFrame(conn, bcast); err != nil {
				return fmt.Errorf("distributed: broadcast to rank %d: %w", want, err)
			}
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (g *TCPGroup) follow(ctx context.Context, seq uint64, name string, own json.RawMessage) ([]json.RawMessage, error) {
	release := armCancel(ctx, g.coord)
	defer release()

	send := &message{Type: msgGather, Seq: seq, Name: name, Rank: g.rank, Payload: own}
	if err := writeFrame(g.coord, send); err != nil {
		return nil, fmt.Errorf("distributed: send %q: %w", name, ctxErr(ctx, err))
	}
	msg, err := readFrame(g.coord)
	if err != nil {
		return nil, fmt.Errorf("distributed: receive bundle %q: %w", name, ctxErr(ctx, err))
	}
	if err := msg.expect(msgBundle, seq, name); err != nil {
		return nil, err
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(msg.Payload, &parts); err != nil {
		return nil, fmt.Errorf("distributed: decode bundle %q: %w", name, err)
	}
	if len(parts) != g.worldSize {
		return nil, fmt.Errorf("distributed: bundle has %d parts, want %d", len(parts), g.worldSize)
	}
	return parts, nil
}

// armCancel trips the connection's deadline when ctx is cancelled so
// blocked reads and writes return. The returned release detaches the
// watcher; it does not clear an already tripped deadline.
func armCancel(ctx context.Context, conn net.Conn) (release func()) {
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	return func() { stop() }
}

// ctxErr prefers the context's error over a deadline error it caused.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func writeFrame(conn net.Conn, msg *message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err = conn.Write(frame)
	return err
}

func readFrame(conn net.Conn) (*message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(conn, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size == 0 || size > maxFrameSize {
		return nil, fmt.Errorf("distributed: frame size %d out of range", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	msg := new(message)
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("distributed: decode frame: %w", err)
	}
	return msg, nil
}
