// Package message holds the structured payloads exchanged by the throughput
// tools, encoded in the protobuf wire format.
package message

import (
	"io"
	"time"

	"github.com/atolab/shmpubsub"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of foxglove.CompressedImage.
const (
	fieldTimestamp protowire.Number = 1
	fieldData      protowire.Number = 2
	fieldFormat    protowire.Number = 3
	fieldFrameID   protowire.Number = 4

	fieldSeconds protowire.Number = 1
	fieldNanos   protowire.Number = 2
)

// CompressedImage is a compressed image, wire compatible with foxglove.CompressedImage.
type CompressedImage struct {
	Timestamp time.Time
	FrameID   string
	Data      []byte
	Format    string
}

// NewCompressedImage returns an image carrying size zero bytes in the given format.
func NewCompressedImage(size int, format string) *CompressedImage {
	return &CompressedImage{
		Data:   make([]byte, size),
		Format: format,
	}
}

// Encoding returns the PROTOBUF encoding.
func (m *CompressedImage) Encoding() shmpubsub.Encoding {
	return shmpubsub.PROTOBUF
}

// Reset clears all fields, keeping the Data buffer for reuse.
func (m *CompressedImage) Reset() {
	m.Timestamp = time.Time{}
	m.FrameID = ""
	m.Data = m.Data[:0]
	m.Format = ""
}

func (m *CompressedImage) timestampSize() int {
	if m.Timestamp.IsZero() {
		return 0
	}
	n := 0
	if s := m.Timestamp.Unix(); s != 0 {
		n += protowire.SizeTag(fieldSeconds) + protowire.SizeVarint(uint64(s))
	}
	if ns := m.Timestamp.Nanosecond(); ns != 0 {
		n += protowire.SizeTag(fieldNanos) + protowire.SizeVarint(uint64(ns))
	}
	return n
}

// Size returns the encoded size of the message in bytes.
func (m *CompressedImage) Size() int {
	n := 0
	if !m.Timestamp.IsZero() {
		n += protowire.SizeTag(fieldTimestamp) + protowire.SizeBytes(m.timestampSize())
	}
	if len(m.Data) > 0 {
		n += protowire.SizeTag(fieldData) + protowire.SizeBytes(len(m.Data))
	}
	if len(m.Format) > 0 {
		n += protowire.SizeTag(fieldFormat) + protowire.SizeBytes(len(m.Format))
	}
	if len(m.FrameID) > 0 {
		n += protowire.SizeTag(fieldFrameID) + protowire.SizeBytes(len(m.FrameID))
	}
	return n
}

// Append appends the encoded message to b.
func (m *CompressedImage) Append(b []byte) []byte {
	if !m.Timestamp.IsZero() {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(m.timestampSize()))
		if s := m.Timestamp.Unix(); s != 0 {
			b = protowire.AppendTag(b, fieldSeconds, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(s))
		}
		if ns := m.Timestamp.Nanosecond(); ns != 0 {
			b = protowire.AppendTag(b, fieldNanos, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(ns))
		}
	}
	if len(m.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	}
	if len(m.Format) > 0 {
		b = protowire.AppendTag(b, fieldFormat, protowire.BytesType)
		b = protowire.AppendString(b, m.Format)
	}
	if len(m.FrameID) > 0 {
		b = protowire.AppendTag(b, fieldFrameID, protowire.BytesType)
		b = protowire.AppendString(b, m.FrameID)
	}
	return b
}

// Marshal returns the encoded message.
func (m *CompressedImage) Marshal() []byte {
	return m.Append(make([]byte, 0, m.Size()))
}

// MarshalTo encodes the message into dst, which must hold at least Size() bytes.
func (m *CompressedImage) MarshalTo(dst []byte) (int, error) {
	size := m.Size()
	if len(dst) < size {
		return 0, io.ErrShortBuffer
	}
	return len(m.Append(dst[:0:size])), nil
}

// Unmarshal decodes b into m. Data is copied, so b may be reused afterwards.
func (m *CompressedImage) Unmarshal(b []byte) error {
	m.Reset()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldTimestamp && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			ts, err := unmarshalTimestamp(v)
			if err != nil {
				return err
			}
			m.Timestamp = ts
			b = b[n:]
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Data = append(m.Data[:0], v...)
			b = b[n:]
		case num == fieldFormat && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.Format = v
			b = b[n:]
		case num == fieldFrameID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m.FrameID = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func unmarshalTimestamp(b []byte) (time.Time, error) {
	var sec, nsec int64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return time.Time{}, protowire.ParseError(n)
		}
		b = b[n:]
		if typ == protowire.VarintType && (num == fieldSeconds || num == fieldNanos) {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return time.Time{}, protowire.ParseError(n)
			}
			if num == fieldSeconds {
				sec = int64(v)
			} else {
				nsec = int64(int32(v))
			}
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return time.Time{}, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return time.Unix(sec, nsec), nil
}
