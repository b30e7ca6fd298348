// Package net provides the low-level shared memory publish/subscribe API:
// sessions, raw publishers and subscribers exchanging bytes over one memory
// file per topic.
package net

import (
	"crypto/rand"
	"encoding/hex"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

var logger = log.WithFields(log.Fields{" pkg": "shmpubsub/net"})

const (
	// DefaultPrefix is the file name prefix of memory files.
	DefaultPrefix = "shmpubsub_"
	// DefaultReserve is the extra capacity, in percent, of a growing memory file.
	DefaultReserve = 50

	maxFileNameTopic = 128
)

// Session is a set of publishers and subscribers sharing memory files.
type Session struct {
	id         string
	clockID    [16]byte
	segmentDir string
	prefix     string
	loopback   bool
	reserve    int

	mu        sync.Mutex
	closed    bool
	topics    map[string]*topic
	nextTopic uint64
}

type topic struct {
	name string
	// index makes memory file names unique within the session
	index uint64
	seq  atomic.Uint64
	file atomic.Pointer[memFile]

	createMu sync.Mutex
	pubs     map[*Publisher]struct{}
	subs     map[*Subscriber]struct{}
}

// Open opens a new Session.
func Open(opts ...Option) (*Session, error) {
	s := &Session{
		segmentDir: defaultSegmentDir,
		prefix:     DefaultPrefix,
		reserve:    DefaultReserve,
		topics:     make(map[string]*topic),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.segmentDir == "" {
		s.segmentDir = os.TempDir()
	} else if fi, err := os.Stat(s.segmentDir); err != nil || !fi.IsDir() {
		if s.segmentDir != defaultSegmentDir {
			return nil, &ZNError{"segment directory " + s.segmentDir + " is not usable", ErrCodeMemFile}
		}
		s.segmentDir = os.TempDir()
	}
	if _, err := rand.Read(s.clockID[:]); err != nil {
		return nil, &ZNError{"generating session id failed: " + err.Error(), ErrCodeMemFile}
	}
	s.id = hex.EncodeToString(s.clockID[:8])

	logger.WithFields(log.Fields{
		"session":     s.id,
		"segment_dir": s.segmentDir,
		"loopback":    s.loopback,
	}).Debug("Open")
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Close undeclares all publishers and subscribers and removes the memory files.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var subs []*Subscriber
	var files []*memFile
	for _, t := range s.topics {
		for sub := range t.subs {
			subs = append(subs, sub)
		}
		for pub := range t.pubs {
			pub.undeclared.Store(true)
		}
		t.subs = make(map[*Subscriber]struct{})
		t.pubs = make(map[*Publisher]struct{})
		if f := t.file.Swap(nil); f != nil {
			files = append(files, f)
		}
	}
	s.topics = make(map[string]*topic)
	s.mu.Unlock()

	logger.WithField("session", s.id).Debug("Close")
	for _, sub := range subs {
		sub.stop()
	}
	var first error
	for _, f := range files {
		if err := f.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Info returns information about the Session configuration and status.
func (s *Session) Info() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	npubs, nsubs := 0, 0
	for _, t := range s.topics {
		npubs += len(t.pubs)
		nsubs += len(t.subs)
	}
	return map[string]string{
		InfoSessionKey:     s.id,
		InfoSegmentDirKey:  s.segmentDir,
		InfoLoopbackKey:    strconv.FormatBool(s.loopback),
		InfoTopicsKey:      strconv.Itoa(len(s.topics)),
		InfoPublishersKey:  strconv.Itoa(npubs),
		InfoSubscribersKey: strconv.Itoa(nsubs),
	}
}

// Topics returns the topics currently having at least one endpoint, sorted by name.
func (s *Session) Topics() []TopicInfo {
	s.mu.Lock()
	infos := make([]TopicInfo, 0, len(s.topics))
	files := make([]*memFile, 0, len(s.topics))
	for _, t := range s.topics {
		infos = append(infos, TopicInfo{
			Name:        t.name,
			Publishers:  len(t.pubs),
			Subscribers: len(t.subs),
			Seq:         t.seq.Load(),
		})
		files = append(files, t.file.Load())
	}
	s.mu.Unlock()

	for i, f := range files {
		if f != nil {
			infos[i].MemFile = f.path
			infos[i].MemFileSize = f.size()
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func checkTopic(name string) error {
	if len(name) == 0 {
		return &ZNError{"invalid topic (empty string)", ErrCodeInvalidTopic}
	}
	if strings.ContainsRune(name, 0) {
		return &ZNError{"invalid topic " + strconv.Quote(name) + " (NUL character)", ErrCodeInvalidTopic}
	}
	return nil
}

// lookup returns the topic for name, creating it. Caller holds s.mu.
func (s *Session) lookup(name string) *topic {
	t, ok := s.topics[name]
	if !ok {
		s.nextTopic++
		t = &topic{
			name:  name,
			index: s.nextTopic,
			pubs: make(map[*Publisher]struct{}),
			subs: make(map[*Subscriber]struct{}),
		}
		s.topics[name] = t
	}
	return t
}

// release drops the topic once its last endpoint is gone. Caller holds s.mu.
func (s *Session) release(t *topic) *memFile {
	if len(t.pubs) > 0 || len(t.subs) > 0 {
		return nil
	}
	if s.topics[t.name] == t {
		delete(s.topics, t.name)
	}
	return t.file.Swap(nil)
}

// matched returns the subscribers a publisher on t delivers to.
func (s *Session) matched(t *topic) []*Subscriber {
	if !s.loopback {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(t.subs) == 0 {
		return nil
	}
	subs := make([]*Subscriber, 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	return subs
}

// memFilePath names the memory file of t. The topic index keeps names
// distinct when two topics escape to the same string.
func (s *Session) memFilePath(t *topic) string {
	name := url.PathEscape(strings.Trim(t.name, "/"))
	if len(name) > maxFileNameTopic {
		name = name[:maxFileNameTopic]
	}
	return filepath.Join(s.segmentDir, s.prefix+s.id+"_"+strconv.FormatUint(t.index, 10)+"_"+name)
}

// memFileFor returns the memory file of t, creating it with room for need bytes.
func (s *Session) memFileFor(t *topic, need int) (*memFile, error) {
	if f := t.file.Load(); f != nil {
		return f, nil
	}
	t.createMu.Lock()
	defer t.createMu.Unlock()
	if f := t.file.Load(); f != nil {
		return f, nil
	}
	f, err := createMemFile(s.memFilePath(t), capacityFor(need, s.reserve))
	if err != nil {
		return nil, err
	}
	t.file.Store(f)
	return f, nil
}

// dropMemFile detaches a broken memory file from t and closes it, so that the
// next send creates a fresh one.
func (s *Session) dropMemFile(t *topic, f *memFile) {
	if !t.file.CompareAndSwap(f, nil) {
		return
	}
	if err := f.close(); err != nil {
		logger.WithFields(log.Fields{"topic": t.name, "error": err}).Warn("Closing broken memory file failed")
	}
}
