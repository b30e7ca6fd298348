package net

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/atolab/shmpubsub/core"
	log "github.com/sirupsen/logrus"
)

// Publisher writes data for a topic into its memory file.
type Publisher struct {
	session    *Session
	topic      *topic
	zeroCopy   atomic.Bool
	ackTimeout atomic.Int64
	undeclared atomic.Bool

	sent        atomic.Uint64
	bytes       atomic.Uint64
	ackTimeouts atomic.Uint64
}

// DeclarePublisher declares a Publisher on a topic
func (s *Session) DeclarePublisher(topic string) (*Publisher, error) {
	logger.WithField("topic", topic).Debug("DeclarePublisher")
	if err := checkTopic(topic); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &ZNError{"declare publisher for " + topic + " on closed session", ErrCodeClosed}
	}
	t := s.lookup(topic)
	pub := &Publisher{session: s, topic: t}
	pub.ackTimeout.Store(int64(DefaultAcknowledgeTimeout))
	t.pubs[pub] = struct{}{}
	return pub, nil
}

// UndeclarePublisher undeclares a Publisher
func (s *Session) UndeclarePublisher(p *Publisher) error {
	logger.WithField("topic", p.topic.name).Debug("UndeclarePublisher")
	if p.undeclared.Swap(true) {
		return &ZNError{"publisher for " + p.topic.name + " already undeclared", ErrCodeUndeclared}
	}
	s.mu.Lock()
	delete(p.topic.pubs, p)
	f := s.release(p.topic)
	s.mu.Unlock()
	if f != nil {
		return f.close()
	}
	return nil
}

// Topic returns the topic the Publisher is declared on.
func (p *Publisher) Topic() string {
	return p.topic.name
}

// EnableZeroCopy switches the zero-copy mode. With zero-copy on, subscribers
// read the data directly from the memory file instead of a private copy.
func (p *Publisher) EnableZeroCopy(enable bool) {
	logger.WithFields(log.Fields{"topic": p.topic.name, "enable": enable}).Debug("EnableZeroCopy")
	p.zeroCopy.Store(enable)
}

// ZeroCopy reports whether zero-copy mode is on.
func (p *Publisher) ZeroCopy() bool {
	return p.zeroCopy.Load()
}

// SetAcknowledgeTimeout sets how long a send waits for all matched subscribers
// to process the data. A zero timeout disables acknowledgement.
func (p *Publisher) SetAcknowledgeTimeout(timeout time.Duration) {
	logger.WithFields(log.Fields{"topic": p.topic.name, "timeout": timeout}).Debug("SetAcknowledgeTimeout")
	if timeout < 0 {
		timeout = 0
	}
	p.ackTimeout.Store(int64(timeout))
}

// AcknowledgeTimeout returns the current acknowledgement timeout.
func (p *Publisher) AcknowledgeTimeout() time.Duration {
	return time.Duration(p.ackTimeout.Load())
}

// SubscriberCount returns the number of subscribers this Publisher delivers to.
func (p *Publisher) SubscriberCount() int {
	return len(p.session.matched(p.topic))
}

// Stats returns the counters of the Publisher.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Sent:        p.sent.Load(),
		Bytes:       p.bytes.Load(),
		AckTimeouts: p.ackTimeouts.Load(),
	}
}

// Send writes a raw buffer for the topic with which the Publisher is declared
func (p *Publisher) Send(data []byte) error {
	return p.send(rawPayload(data), 0, 0)
}

// SendWO writes a raw buffer with an encoding and a kind
func (p *Publisher) SendWO(data []byte, encoding uint8, kind uint8) error {
	return p.send(rawPayload(data), encoding, kind)
}

// SendPayload serializes w directly into the memory file
func (p *Publisher) SendPayload(w PayloadWriter) error {
	return p.send(w, 0, 0)
}

// SendPayloadWO serializes w directly into the memory file, with an encoding and a kind
func (p *Publisher) SendPayloadWO(w PayloadWriter, encoding uint8, kind uint8) error {
	return p.send(w, encoding, kind)
}

func (p *Publisher) send(w PayloadWriter, encoding uint8, kind uint8) error {
	if p.undeclared.Load() {
		return &ZNError{"send on undeclared publisher for " + p.topic.name, ErrCodeUndeclared}
	}
	size := w.Size()
	if size < 0 || size > MaxPayloadSize {
		return &ZNError{"send of " + strconv.Itoa(size) + " bytes payload exceeds limit", ErrCodeTooLarge}
	}
	prefixLen := VleSize(int(encoding)) + VleSize(int(kind))
	need := headerSize + prefixLen + size

	f, err := p.session.memFileFor(p.topic, need)
	if err != nil {
		return err
	}

	f.rw.Lock()
	if len(f.mem) < need {
		if err := f.grow(capacityFor(need, p.session.reserve)); err != nil {
			f.rw.Unlock()
			p.session.dropMemFile(p.topic, f)
			return err
		}
	}
	frame := f.mem[headerSize:need]
	frame = VleAppend(frame[:0], int(encoding))
	frame = VleAppend(frame, int(kind))
	n, err := w.MarshalTo(f.mem[headerSize+prefixLen : need])
	if err != nil {
		f.rw.Unlock()
		return &ZNError{"payload serialization for " + p.topic.name + " failed: " + err.Error(), ErrCodeShortWrite}
	}
	if n != size {
		f.rw.Unlock()
		return &ZNError{"payload writer wrote " + strconv.Itoa(n) + " of " + strconv.Itoa(size) + " bytes", ErrCodeShortWrite}
	}
	var flags uint8
	if p.zeroCopy.Load() {
		flags |= flagZeroCopy
	}
	seq := p.topic.seq.Add(1)
	putHeader(f.mem, &header{
		flags:  flags,
		seq:    seq,
		length: uint64(prefixLen + size),
		tstamp: core.NewTimestamp(time.Now(), p.session.clockID),
	})
	f.rw.Unlock()

	p.sent.Add(1)
	p.bytes.Add(uint64(size))

	subs := p.session.matched(p.topic)
	for _, sub := range subs {
		sub.notify()
	}
	if timeout := p.AcknowledgeTimeout(); timeout > 0 && len(subs) > 0 {
		p.awaitAcks(subs, seq, timeout)
	}
	return nil
}

func (p *Publisher) awaitAcks(subs []*Subscriber, seq uint64, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, sub := range subs {
		if !sub.waitAck(ctx, seq) {
			p.ackTimeouts.Add(1)
			logger.WithFields(log.Fields{
				"topic":   p.topic.name,
				"seq":     seq,
				"timeout": timeout,
			}).Debug("Acknowledge timeout")
			return
		}
	}
}
