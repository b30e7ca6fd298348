package net

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Subscriber receives the data published on a topic and hands it to a DataHandler.
type Subscriber struct {
	session *Session
	topic   *topic
	handler DataHandler

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	lastSeq uint64
	buf     []byte

	ackMu   sync.Mutex
	ackSeq  uint64
	ackCh   chan struct{}
	stopped bool

	received atomic.Uint64
	bytes    atomic.Uint64
	dropped  atomic.Uint64
}

// DeclareSubscriber declares a Subscriber on a topic. The handler is called
// from a goroutine owned by the Subscriber, one message at a time.
func (s *Session) DeclareSubscriber(topic string, handler DataHandler) (*Subscriber, error) {
	logger.WithField("topic", topic).Debug("DeclareSubscriber")
	if err := checkTopic(topic); err != nil {
		return nil, err
	}
	if handler == nil {
		handler = func(topic string, data []byte, info *DataInfo) {
			logger.WithFields(log.Fields{"topic": topic, "len": len(data)}).Trace("no handler set, dropping data")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &ZNError{"declare subscriber for " + topic + " on closed session", ErrCodeClosed}
	}
	t := s.lookup(topic)
	sub := &Subscriber{
		session: s,
		topic:   t,
		handler: handler,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		ackCh:   make(chan struct{}),
		lastSeq: t.seq.Load(),
	}
	t.subs[sub] = struct{}{}
	sub.wg.Add(1)
	go sub.run()
	return sub, nil
}

// UndeclareSubscriber undeclares a Subscriber
func (s *Session) UndeclareSubscriber(sub *Subscriber) error {
	logger.WithField("topic", sub.topic.name).Debug("UndeclareSubscriber")
	s.mu.Lock()
	if _, ok := sub.topic.subs[sub]; !ok {
		s.mu.Unlock()
		return &ZNError{"subscriber for " + sub.topic.name + " already undeclared", ErrCodeUndeclared}
	}
	delete(sub.topic.subs, sub)
	f := s.release(sub.topic)
	s.mu.Unlock()

	sub.stop()
	if f != nil {
		return f.close()
	}
	return nil
}

// Topic returns the topic the Subscriber is declared on.
func (sub *Subscriber) Topic() string {
	return sub.topic.name
}

// Stats returns the counters of the Subscriber.
func (sub *Subscriber) Stats() SubscriberStats {
	return SubscriberStats{
		Received: sub.received.Load(),
		Bytes:    sub.bytes.Load(),
		Dropped:  sub.dropped.Load(),
	}
}

func (sub *Subscriber) stop() {
	sub.once.Do(func() {
		close(sub.quit)
		sub.wg.Wait()
		sub.ackMu.Lock()
		sub.stopped = true
		close(sub.ackCh)
		sub.ackMu.Unlock()
	})
}

// notify wakes the receive loop; pending wake-ups coalesce.
func (sub *Subscriber) notify() {
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *Subscriber) run() {
	defer sub.wg.Done()
	defer logger.WithField("topic", sub.topic.name).Debug("receive loop done")
	for {
		select {
		case <-sub.quit:
			return
		case <-sub.wake:
			sub.receive()
		}
	}
}

func (sub *Subscriber) receive() {
	f := sub.topic.file.Load()
	if f == nil {
		return
	}

	f.rw.RLock()
	h, ok := getHeader(f.mem)
	if !ok || h.seq <= sub.lastSeq {
		f.rw.RUnlock()
		return
	}
	if int(h.length) > len(f.mem)-headerSize {
		f.rw.RUnlock()
		logger.WithFields(log.Fields{"topic": sub.topic.name, "seq": h.seq}).Warn("Frame exceeds memory file")
		return
	}
	frame := f.mem[headerSize : headerSize+int(h.length)]
	encoding, rest, err := VleDecodeChecked(frame)
	var kind int
	if err == nil {
		kind, rest, err = VleDecodeChecked(rest)
	}
	if err != nil {
		f.rw.RUnlock()
		logger.WithFields(log.Fields{"topic": sub.topic.name, "seq": h.seq, "error": err}).Warn("Invalid frame prefix")
		return
	}

	if skipped := h.seq - sub.lastSeq - 1; skipped > 0 {
		sub.dropped.Add(skipped)
		logger.WithFields(log.Fields{"topic": sub.topic.name, "skipped": skipped}).Trace("Subscriber fell behind")
	}
	sub.lastSeq = h.seq

	info := &DataInfo{
		seq:      h.seq,
		tstamp:   h.tstamp,
		encoding: uint8(encoding),
		kind:     uint8(kind),
		zeroCopy: h.flags&flagZeroCopy != 0,
	}
	if info.zeroCopy {
		sub.handler(sub.topic.name, rest, info)
		f.rw.RUnlock()
	} else {
		sub.buf = append(sub.buf[:0], rest...)
		f.rw.RUnlock()
		sub.handler(sub.topic.name, sub.buf, info)
	}

	sub.received.Add(1)
	sub.bytes.Add(uint64(len(rest)))
	sub.ack(h.seq)
}

func (sub *Subscriber) ack(seq uint64) {
	sub.ackMu.Lock()
	defer sub.ackMu.Unlock()
	if sub.stopped {
		return
	}
	if seq > sub.ackSeq {
		sub.ackSeq = seq
	}
	close(sub.ackCh)
	sub.ackCh = make(chan struct{})
}

// waitAck blocks until seq or a later sequence is acknowledged, the
// subscriber stops, or ctx is done. It returns false only in the latter case.
func (sub *Subscriber) waitAck(ctx context.Context, seq uint64) bool {
	for {
		sub.ackMu.Lock()
		if sub.ackSeq >= seq || sub.stopped {
			sub.ackMu.Unlock()
			return true
		}
		ch := sub.ackCh
		sub.ackMu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}
