// Package shmpubsub provides a typed publish/subscribe API over shared memory.
//
// A Node wraps a low-level net.Session. Structured messages are published with
// a Publisher, which serializes each Message directly into the topic's memory
// file, and received with a Subscriber, which decodes each data into a Message.
// Raw byte buffers go through the net package or through a Workspace.
package shmpubsub

import (
	"sync/atomic"
	"time"

	"github.com/atolab/shmpubsub/net"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithFields(log.Fields{" pkg": "shmpubsub"})

// Node is an open shmpubsub session.
type Node struct {
	session *net.Session
}

// Open opens a Node with the given session options.
func Open(opts ...net.Option) (*Node, error) {
	logger.Debug("Open")
	s, err := net.Open(opts...)
	if err != nil {
		return nil, &ZError{"Open failed", err}
	}
	return &Node{session: s}, nil
}

// Session returns the underlying net.Session.
func (n *Node) Session() *net.Session {
	return n.session
}

// Close closes the Node, undeclaring all its publishers and subscribers.
func (n *Node) Close() error {
	logger.WithField("session", n.session.ID()).Debug("Close")
	if err := n.session.Close(); err != nil {
		return &ZError{"Close failed", err}
	}
	return nil
}

// Workspace returns a Workspace resolving relative paths against path.
func (n *Node) Workspace(path *Path) *Workspace {
	return &Workspace{
		path:       path,
		session:    n.session,
		publishers: make(map[Path]*net.Publisher),
	}
}

// Admin returns the Admin interface of the Node.
func (n *Node) Admin() *Admin {
	return &Admin{session: n.session}
}

/////////////////
//  Publisher  //
/////////////////

// Publisher publishes Messages of type T on a topic.
type Publisher[T Message] struct {
	node *Node
	pub  *net.Publisher
}

// DeclarePublisher declares a Publisher of T on a topic.
func DeclarePublisher[T Message](n *Node, topic string) (*Publisher[T], error) {
	logger.WithField("topic", topic).Debug("DeclarePublisher")
	path, err := NewPath(topic)
	if err != nil {
		return nil, err
	}
	pub, err := n.session.DeclarePublisher(path.ToString())
	if err != nil {
		return nil, &ZError{"DeclarePublisher on " + path.ToString() + " failed", err}
	}
	return &Publisher[T]{node: n, pub: pub}, nil
}

// Topic returns the topic of the Publisher.
func (p *Publisher[T]) Topic() string {
	return p.pub.Topic()
}

// EnableZeroCopy switches the zero-copy mode of the Publisher.
func (p *Publisher[T]) EnableZeroCopy(enable bool) {
	p.pub.EnableZeroCopy(enable)
}

// SetAcknowledgeTimeout sets how long Send waits for subscribers to process a message.
func (p *Publisher[T]) SetAcknowledgeTimeout(timeout time.Duration) {
	p.pub.SetAcknowledgeTimeout(timeout)
}

// SubscriberCount returns the number of subscribers matched with the Publisher.
func (p *Publisher[T]) SubscriberCount() int {
	return p.pub.SubscriberCount()
}

// Stats returns the counters of the Publisher.
func (p *Publisher[T]) Stats() net.PublisherStats {
	return p.pub.Stats()
}

// Raw returns the underlying raw Publisher, e.g. to send pre-serialized buffers.
func (p *Publisher[T]) Raw() *net.Publisher {
	return p.pub
}

// Send serializes msg directly into the memory file and notifies subscribers.
func (p *Publisher[T]) Send(msg T) error {
	if err := p.pub.SendPayloadWO(msg, msg.Encoding(), PUT); err != nil {
		return &ZError{"Send on " + p.pub.Topic() + " failed", err}
	}
	return nil
}

// Undeclare undeclares the Publisher.
func (p *Publisher[T]) Undeclare() error {
	if err := p.node.session.UndeclarePublisher(p.pub); err != nil {
		return &ZError{"UndeclarePublisher on " + p.pub.Topic() + " failed", err}
	}
	return nil
}

//////////////////
//  Subscriber  //
//////////////////

// MessageListener is called with each decoded message. msg is reused for the
// next message, so it must not be retained after the listener returns.
type MessageListener[T Message] func(topic string, msg T, info *net.DataInfo)

// Subscriber decodes the data received on a topic into Messages of type T.
type Subscriber[T Message] struct {
	node         *Node
	sub          *net.Subscriber
	decodeErrors atomic.Uint64
}

// DeclareSubscriber declares a Subscriber of T on a topic. Every received data
// is decoded into msg, then passed to listener.
func DeclareSubscriber[T Message](n *Node, topic string, msg T, listener MessageListener[T]) (*Subscriber[T], error) {
	logger.WithField("topic", topic).Debug("DeclareSubscriber")
	path, err := NewPath(topic)
	if err != nil {
		return nil, err
	}
	s := &Subscriber[T]{node: n}
	handler := func(topic string, data []byte, info *net.DataInfo) {
		if enc := info.Encoding(); enc != RAW && enc != msg.Encoding() {
			s.decodeErrors.Add(1)
			logger.WithFields(log.Fields{
				"topic":    topic,
				"encoding": enc,
			}).Warn("Subscriber received data with an unexpected encoding")
			return
		}
		if err := msg.Unmarshal(data); err != nil {
			s.decodeErrors.Add(1)
			logger.WithFields(log.Fields{
				"topic": topic,
				"error": err,
			}).Warn("Subscriber failed to decode data")
			return
		}
		listener(topic, msg, info)
	}
	sub, err := n.session.DeclareSubscriber(path.ToString(), handler)
	if err != nil {
		return nil, &ZError{"DeclareSubscriber on " + path.ToString() + " failed", err}
	}
	s.sub = sub
	return s, nil
}

// Topic returns the topic of the Subscriber.
func (s *Subscriber[T]) Topic() string {
	return s.sub.Topic()
}

// Stats returns the counters of the Subscriber.
func (s *Subscriber[T]) Stats() net.SubscriberStats {
	return s.sub.Stats()
}

// DecodeErrors returns the number of received data that could not be decoded.
func (s *Subscriber[T]) DecodeErrors() uint64 {
	return s.decodeErrors.Load()
}

// Undeclare undeclares the Subscriber.
func (s *Subscriber[T]) Undeclare() error {
	if err := s.node.session.UndeclareSubscriber(s.sub); err != nil {
		return &ZError{"UndeclareSubscriber on " + s.sub.Topic() + " failed", err}
	}
	return nil
}
