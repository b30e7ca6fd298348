package shmpubsub

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/atolab/shmpubsub/core"
)

// ZError reports an error that occurred in shmpubsub.
type ZError struct {
	msg   string
	cause error
}

func (e *ZError) Error() string {
	if e.cause != nil {
		return e.msg + " - caused by:" + e.cause.Error()
	}
	return e.msg
}

// Unwrap returns the cause of the error, if any.
func (e *ZError) Unwrap() error {
	return e.cause
}

// Timestamp is a shmpubsub Timestamp
type Timestamp = core.Timestamp

////////////////
//    Path    //
////////////////

// Path is a topic path
type Path struct {
	path string
}

// NewPath returns a new Path from the string p, if it's a valid path specification.
// Otherwise, it returns an error.
func NewPath(p string) (*Path, error) {
	if len(p) == 0 {
		return nil, &ZError{"Invalid path (empty String)", nil}
	}

	for i, c := range p {
		if c == '?' || c == '#' || c == '[' || c == ']' || c == '*' || c == 0 {
			return nil, &ZError{"Invalid path: " + p + " (forbidden character at index " + strconv.Itoa(i) + ")", nil}
		}
	}
	result := removeUselessSlashes(p)
	if len(result) == 0 {
		return nil, &ZError{"Invalid path: " + p + " (only slashes)", nil}
	}
	return &Path{result}, nil
}

// ToString returns the Path as a string
func (p *Path) ToString() string {
	return p.path
}

// String implements fmt.Stringer
func (p *Path) String() string {
	return p.path
}

// Length returns length of the path string
func (p *Path) Length() int {
	return len(p.path)
}

// IsRelative returns true if the Path is not absolute (i.e. it doesn't start with '/')
func (p *Path) IsRelative() bool {
	return p.Length() == 0 || p.path[0] != '/'
}

// AddPrefix returns a new Path made from the concatenation of the prefix and this path.
func (p *Path) AddPrefix(prefix *Path) *Path {
	result, _ := NewPath(prefix.path + "/" + p.path)
	return result
}

var slashesRegexp = regexp.MustCompile("/+")

func removeUselessSlashes(s string) string {
	result := slashesRegexp.ReplaceAllString(s, "/")
	if result == "/" {
		return ""
	}
	return strings.TrimSuffix(result, "/")
}

////////////////
//   Change   //
////////////////

// ChangeKind is a kind of change
type ChangeKind = uint8

const (
	// PUT represents a put operation
	PUT ChangeKind = 0x00
	// REMOVE represents a remove operation
	REMOVE ChangeKind = 0x02
)

// Change represents a change made on a path
type Change struct {
	path  *Path
	kind  ChangeKind
	time  Timestamp
	value Value
}

// Path returns the path impacted by the change
func (c *Change) Path() *Path {
	return c.path
}

// Kind returns the kind of change
func (c *Change) Kind() ChangeKind {
	return c.kind
}

// Time returns the time of change, as stamped by the publisher
func (c *Change) Time() Timestamp {
	return c.time
}

// Value returns the value that changed
func (c *Change) Value() Value {
	return c.value
}

////////////////
//  Encoding  //
////////////////

// Encoding is the encoding kind of a Value or a Message
type Encoding = uint8

// Known encodings
const (
	RAW      Encoding = 0x00
	STRING   Encoding = 0x02
	JSON     Encoding = 0x04
	PROTOBUF Encoding = 0x06
)

var (
	decodersMu    sync.RWMutex
	valueDecoders = map[Encoding]ValueDecoder{}
)

// RegisterValueDecoder registers a ValueDecoder function with it's Encoding
func RegisterValueDecoder(encoding Encoding, decoder ValueDecoder) error {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	if valueDecoders[encoding] != nil {
		return &ZError{"Already registered ValueDecoder for Encoding " + strconv.Itoa(int(encoding)), nil}
	}
	valueDecoders[encoding] = decoder
	return nil
}

func lookupValueDecoder(encoding Encoding) (ValueDecoder, bool) {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	d, ok := valueDecoders[encoding]
	return d, ok
}

func init() {
	RegisterValueDecoder(RAW, rawDecoder)
	RegisterValueDecoder(STRING, stringDecoder)
	RegisterValueDecoder(JSON, stringDecoder)
	RegisterValueDecoder(PROTOBUF, rawDecoder)
}

////////////////
//  Message   //
////////////////

// Message is a structured payload that serializes itself straight into a
// memory file and decodes itself from received data.
type Message interface {
	Encoding() Encoding
	Size() int
	MarshalTo(dst []byte) (int, error)
	Unmarshal(data []byte) error
}

////////////////
//   Value    //
////////////////

// Value represents a value published on a path
type Value interface {
	Encoding() Encoding
	Encode() []byte
	ToString() string
}

// ValueDecoder is a decoder for a Value
type ValueDecoder func([]byte) (Value, error)

///////////////////
//   RAW Value   //
///////////////////

// RawValue is a RAW value (i.e. a bytes buffer)
type RawValue struct {
	buf []byte
}

// NewRawValue returns a new RawValue
func NewRawValue(buf []byte) *RawValue {
	return &RawValue{buf}
}

// Encoding returns the encoding flag for a RawValue
func (v *RawValue) Encoding() Encoding {
	return RAW
}

// Encode returns the value encoded as a []byte
func (v *RawValue) Encode() []byte {
	return v.buf
}

// ToString returns the value as a string
func (v *RawValue) ToString() string {
	return fmt.Sprintf("[x %d]", len(v.buf))
}

func rawDecoder(buf []byte) (Value, error) {
	return &RawValue{append([]byte(nil), buf...)}, nil
}

//////////////////////
//   STRING Value   //
//////////////////////

// StringValue is a STRING value (i.e. just a string)
type StringValue struct {
	s string
}

// NewStringValue returns a new StringValue
func NewStringValue(s string) *StringValue {
	return &StringValue{s}
}

// Encoding returns the encoding flag for a StringValue
func (v *StringValue) Encoding() Encoding {
	return STRING
}

// Encode returns the value encoded as a []byte
func (v *StringValue) Encode() []byte {
	return []byte(v.s)
}

// ToString returns the value as a string
func (v *StringValue) ToString() string {
	return v.s
}

func stringDecoder(buf []byte) (Value, error) {
	return &StringValue{string(buf)}, nil
}
