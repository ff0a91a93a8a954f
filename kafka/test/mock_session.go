package test

import (
	"context"
	"sync"

	"github.com/Shopify/sarama"
)

// MockSession is a sarama.ConsumerGroupSession recording marked messages.
type MockSession struct {
	sync.Mutex
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func NewMockSession(ctx context.Context) *MockSession {
	return &MockSession{ctx: ctx}
}

func (s *MockSession) Claims() map[string][]int32 {
	return nil
}

func (s *MockSession) MemberID() string {
	return "member-1"
}

func (s *MockSession) GenerationID() int32 {
	return 1
}

func (s *MockSession) Commit() {}

func (s *MockSession) Context() context.Context {
	return s.ctx
}

func (s *MockSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {}

func (s *MockSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {}

func (s *MockSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.Lock()
	defer s.Unlock()
	s.marked = append(s.marked, msg)
}

func (s *MockSession) Marked() []*sarama.ConsumerMessage {
	s.Lock()
	defer s.Unlock()
	return append([]*sarama.ConsumerMessage(nil), s.marked...)
}

// MockClaim is a sarama.ConsumerGroupClaim fed through its channel.
type MockClaim struct {
	Ch chan *sarama.ConsumerMessage
}

func NewMockClaim(buffer int) *MockClaim {
	return &MockClaim{Ch: make(chan *sarama.ConsumerMessage, buffer)}
}

func (c *MockClaim) Topic() string {
	return "layer-hooks"
}

func (c *MockClaim) Partition() int32 {
	return 0
}

func (c *MockClaim) InitialOffset() int64 {
	return 0
}

func (c *MockClaim) HighWaterMarkOffset() int64 {
	return 0
}

func (c *MockClaim) Messages() <-chan *sarama.ConsumerMessage {
	return c.Ch
}
