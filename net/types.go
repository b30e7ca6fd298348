package net

import (
	"strconv"
	"time"

	"github.com/atolab/shmpubsub/core"
)

const (
	// InfoSessionKey is the key for the session id in the properties
	// map returned by the Info() operation.
	InfoSessionKey = "session"

	// InfoSegmentDirKey is the key for the directory holding the memory files.
	InfoSegmentDirKey = "segment_dir"

	// InfoLoopbackKey is the key for the loopback setting ("true" or "false").
	InfoLoopbackKey = "loopback"

	// InfoTopicsKey is the key for the number of topics with at least one endpoint.
	InfoTopicsKey = "topics"

	// InfoPublishersKey is the key for the number of declared publishers.
	InfoPublishersKey = "publishers"

	// InfoSubscribersKey is the key for the number of declared subscribers.
	InfoSubscribersKey = "subscribers"
)

// Error codes carried by ZNError.
const (
	ErrCodeClosed = iota + 1
	ErrCodeUndeclared
	ErrCodeInvalidTopic
	ErrCodeMemFile
	ErrCodeTooLarge
	ErrCodeShortWrite
	ErrCodeFrame
)

// ZNError reports an error that occurred in the shared memory transport
type ZNError struct {
	msg  string
	code int
}

// Error returns the message associated to a ZNError
func (e *ZNError) Error() string {
	return e.msg + " (error code:" + strconv.Itoa(e.code) + ")"
}

// Code returns the error code of a ZNError
func (e *ZNError) Code() int {
	return e.code
}

//
// Types and helpers
//

// DataHandler will be called on reception of data published on the subscribed topic.
// With zero-copy, data points into the memory file and must not be retained after
// the handler returns. The handler then runs while the memory file is read
// locked, so it must not send on the same topic nor declare or undeclare
// endpoints of the session.
type DataHandler func(topic string, data []byte, info *DataInfo)

// PayloadWriter serializes a payload straight into the memory file.
// MarshalTo must write exactly Size() bytes into dst.
type PayloadWriter interface {
	Size() int
	MarshalTo(dst []byte) (int, error)
}

type rawPayload []byte

func (p rawPayload) Size() int {
	return len(p)
}

func (p rawPayload) MarshalTo(dst []byte) (int, error) {
	return copy(dst, p), nil
}

// DataInfo is the information associated to a received data.
type DataInfo struct {
	seq      uint64
	tstamp   core.Timestamp
	encoding uint8
	kind     uint8
	zeroCopy bool
}

// Seq returns the sequence number of the data on its topic
func (info *DataInfo) Seq() uint64 {
	return info.seq
}

// Flags returns the flags from a DataInfo
func (info *DataInfo) Flags() uint {
	var f uint
	if info.zeroCopy {
		f |= flagZeroCopy
	}
	return f
}

// Tstamp returns the timestamp from a DataInfo
func (info *DataInfo) Tstamp() core.Timestamp {
	return info.tstamp
}

// Encoding returns the encoding from a DataInfo
func (info *DataInfo) Encoding() uint8 {
	return info.encoding
}

// Kind returns the kind from a DataInfo
func (info *DataInfo) Kind() uint8 {
	return info.kind
}

// ZeroCopy reports whether the data was handed out directly from shared memory
func (info *DataInfo) ZeroCopy() bool {
	return info.zeroCopy
}

// PublisherStats are the counters of a Publisher.
type PublisherStats struct {
	Sent        uint64
	Bytes       uint64
	AckTimeouts uint64
}

// SubscriberStats are the counters of a Subscriber.
type SubscriberStats struct {
	Received uint64
	Bytes    uint64
	Dropped  uint64
}

// TopicInfo describes a topic known to a Session.
type TopicInfo struct {
	Name        string
	MemFile     string
	MemFileSize int
	Publishers  int
	Subscribers int
	Seq         uint64
}

// Option configures a Session.
type Option func(*Session)

// WithSegmentDir sets the directory where memory files are created.
func WithSegmentDir(dir string) Option {
	return func(s *Session) {
		s.segmentDir = dir
	}
}

// WithPrefix sets the file name prefix of memory files.
func WithPrefix(prefix string) Option {
	return func(s *Session) {
		s.prefix = prefix
	}
}

// WithLoopback enables matching of publishers and subscribers of the same session.
func WithLoopback(enable bool) Option {
	return func(s *Session) {
		s.loopback = enable
	}
}

// WithReserve sets the extra capacity, in percent, allocated when a memory file grows.
func WithReserve(percent int) Option {
	return func(s *Session) {
		if percent >= 0 {
			s.reserve = percent
		}
	}
}

// DefaultAcknowledgeTimeout is the acknowledgement timeout of new publishers (none).
const DefaultAcknowledgeTimeout = time.Duration(0)
