package shmpubsub

import (
	"sync"
	"time"

	"github.com/atolab/shmpubsub/net"
	log "github.com/sirupsen/logrus"
)

// Listener defines the callback function that has to be registered for subscriptions
type Listener func([]Change)

// SubscriptionID identifies a subscription made through a Workspace
type SubscriptionID = net.Subscriber

// Workspace publishes and subscribes Values on paths relative to a prefix.
type Workspace struct {
	path          *Path
	session       *net.Session
	useSubroutine bool
	ackTimeout    time.Duration

	mu         sync.Mutex
	publishers map[Path]*net.Publisher
}

// UseSubroutine makes listeners run on their own goroutine.
func (w *Workspace) UseSubroutine(enable bool) {
	w.useSubroutine = enable
}

// SetAcknowledgeTimeout sets the acknowledgement timeout of the publishers
// created by Put and Remove.
func (w *Workspace) SetAcknowledgeTimeout(timeout time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ackTimeout = timeout
	for _, pub := range w.publishers {
		pub.SetAcknowledgeTimeout(timeout)
	}
}

func (w *Workspace) publisher(p *Path) (*net.Publisher, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if pub, ok := w.publishers[*p]; ok {
		return pub, nil
	}
	pub, err := w.session.DeclarePublisher(p.ToString())
	if err != nil {
		return nil, err
	}
	pub.SetAcknowledgeTimeout(w.ackTimeout)
	w.publishers[*p] = pub
	return pub, nil
}

// Put a path/value.
func (w *Workspace) Put(path *Path, value Value) error {
	logger.WithFields(log.Fields{
		"path":  path,
		"value": value.ToString(),
	}).Debug("Put")
	p := w.toAbsolutePath(path)
	pub, err := w.publisher(p)
	if err != nil {
		return &ZError{"Put on " + p.ToString() + " failed", err}
	}
	if e := pub.SendWO(value.Encode(), value.Encoding(), PUT); e != nil {
		return &ZError{"Put on " + p.ToString() + " failed", e}
	}
	return nil
}

// Remove a path.
func (w *Workspace) Remove(path *Path) error {
	logger.WithField("path", path).Debug("Remove")
	p := w.toAbsolutePath(path)
	pub, err := w.publisher(p)
	if err != nil {
		return &ZError{"Remove on " + p.ToString() + " failed", err}
	}
	if e := pub.SendWO(nil, RAW, REMOVE); e != nil {
		return &ZError{"Remove on " + p.ToString() + " failed", e}
	}
	return nil
}

// Subscribe subscribes to the values published on a path.
func (w *Workspace) Subscribe(path *Path, listener Listener) (*SubscriptionID, error) {
	p := w.toAbsolutePath(path)
	logger := logger.WithField("path", p)
	logger.Debug("Subscribe")

	zListener := func(topic string, data []byte, info *net.DataInfo) {
		var changes = make([]Change, 1)
		changes[0].path = p
		changes[0].kind = info.Kind()
		changes[0].time = info.Tstamp()
		if info.Kind() != REMOVE {
			encoding := info.Encoding()
			decoder, ok := lookupValueDecoder(encoding)
			if !ok {
				logger.WithField("encoding", encoding).
					Warn("Subscribe received a notification with an encoding, but no Decoder found for it")
				return
			}
			value, err := decoder(data)
			if err != nil {
				logger.WithFields(log.Fields{
					"encoding": encoding,
					"error":    err,
				}).Warn("Subscribe received a notification, but Decoder failed to decode")
				return
			}
			changes[0].value = value
		}

		if w.useSubroutine {
			go listener(changes)
		} else {
			listener(changes)
		}
	}

	sub, err := w.session.DeclareSubscriber(p.ToString(), zListener)
	if err != nil {
		return nil, &ZError{"Subscribe on " + p.ToString() + " failed", err}
	}
	return sub, nil
}

// Unsubscribe unregisters a previous subscription
func (w *Workspace) Unsubscribe(subid *SubscriptionID) error {
	err := w.session.UndeclareSubscriber(subid)
	if err != nil {
		return &ZError{"Unsubscribe failed", err}
	}
	return nil
}

// Close undeclares the publishers created by Put and Remove.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var first error
	for p, pub := range w.publishers {
		if err := w.session.UndeclarePublisher(pub); err != nil && first == nil {
			first = &ZError{"Close of publisher on " + p.ToString() + " failed", err}
		}
	}
	w.publishers = make(map[Path]*net.Publisher)
	return first
}

func (w *Workspace) toAbsolutePath(p *Path) *Path {
	if p.IsRelative() && w.path != nil {
		return p.AddPrefix(w.path)
	}
	return p
}
