package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"

	"github.com/VanDung-dev/Seamless-Engine/engine"
)

// MaxSummarySize bounds a summary payload (16MB). Publishers refuse larger
// summaries. Subscribers check the size after the frame has been read off
// the socket, so it bounds decoding, not the receive buffer.
const MaxSummarySize = 16 * 1024 * 1024

// Common errors for network operations
var (
	ErrNotRunning      = errors.New("socket is not running")
	ErrAlreadyRunning  = errors.New("socket already running")
	ErrBadMessage      = errors.New("malformed message")
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// ResultPublisher broadcasts schedule summaries on a PUB socket.
type ResultPublisher struct {
	nodeID   string
	endpoint string

	ctx    context.Context
	cancel context.CancelFunc

	pub     zmq4.Socket
	running bool
	sent    int64
	mu      sync.Mutex
}

// NewResultPublisher creates a publisher that will bind to endpoint,
// e.g. "tcp://127.0.0.1:7100".
func NewResultPublisher(nodeID, endpoint string) *ResultPublisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &ResultPublisher{
		nodeID:   nodeID,
		endpoint: endpoint,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Endpoint returns the bind address.
func (p *ResultPublisher) Endpoint() string { return p.endpoint }

// Start binds the PUB socket.
func (p *ResultPublisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}

	p.pub = zmq4.NewPub(p.ctx)
	if err := p.pub.Listen(p.endpoint); err != nil {
		_ = p.pub.Close()
		return fmt.Errorf("failed to bind publisher: %w", err)
	}
	p.running = true
	return nil
}

// Publish sends the summary of res for the block at height. Subscribers
// that are not connected yet miss it.
func (p *ResultPublisher) Publish(height uint64, res *engine.ScheduleResult) error {
	return p.PublishSummary(NewScheduleSummary(p.nodeID, height, res))
}

// PublishSummary sends an already built summary.
func (p *ResultPublisher) PublishSummary(s *ScheduleSummary) error {
	data, err := encodeSummary(s)
	if err != nil {
		return err
	}
	if len(data) > MaxSummarySize {
		return ErrMessageTooLarge
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return ErrNotRunning
	}
	if err := p.pub.Send(zmq4.NewMsgFrom([]byte(TopicSchedule), data)); err != nil {
		return fmt.Errorf("failed to publish summary: %w", err)
	}
	p.sent++
	return nil
}

// Sent returns the number of published summaries.
func (p *ResultPublisher) Sent() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Stop closes the socket.
func (p *ResultPublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.cancel()
	_ = p.pub.Close() // best effort during shutdown
}

// ResultSubscriber receives schedule summaries from a publisher.
type ResultSubscriber struct {
	endpoint string

	ctx    context.Context
	cancel context.CancelFunc

	sub     zmq4.Socket
	running bool
	mu      sync.Mutex
}

// NewResultSubscriber creates a subscriber that will dial endpoint.
func NewResultSubscriber(endpoint string) *ResultSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &ResultSubscriber{
		endpoint: endpoint,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start connects and subscribes to schedule summaries.
func (s *ResultSubscriber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	s.sub = zmq4.NewSub(s.ctx)
	if err := s.sub.Dial(s.endpoint); err != nil {
		_ = s.sub.Close()
		return fmt.Errorf("failed to dial publisher: %w", err)
	}
	if err := s.sub.SetOption(zmq4.OptionSubscribe, TopicSchedule); err != nil {
		_ = s.sub.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	s.running = true
	return nil
}

// Recv blocks until the next summary arrives or the subscriber stops.
func (s *ResultSubscriber) Recv() (*ScheduleSummary, error) {
	s.mu.Lock()
	sub, running := s.sub, s.running
	s.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}

	msg, err := sub.Recv()
	if err != nil {
		return nil, err
	}
	return parseSummaryMsg(msg)
}

// parseSummaryMsg validates the topic and payload frames of a received
// message. Oversized payloads are dropped before decoding.
func parseSummaryMsg(msg zmq4.Msg) (*ScheduleSummary, error) {
	if len(msg.Frames) != 2 || string(msg.Frames[0]) != TopicSchedule {
		return nil, ErrBadMessage
	}
	if len(msg.Frames[1]) > MaxSummarySize {
		return nil, ErrMessageTooLarge
	}
	return decodeSummary(msg.Frames[1])
}

// Stop closes the socket. A blocked Recv returns an error.
func (s *ResultSubscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	_ = s.sub.Close()
}
