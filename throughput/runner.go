package throughput

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/atolab/shmpubsub"
	"github.com/atolab/shmpubsub/message"
	"github.com/atolab/shmpubsub/net"
	"github.com/loov/hrtime"
	log "github.com/sirupsen/logrus"
)

// HistogramBins is the number of bins of the per-send histogram.
const HistogramBins = 10

// RunAll runs the trials of cfg in order and hands every result to each
// reporter. Reporters implementing Announcer are told when a trial starts and
// when its message is ready. RunAll stops at the first failing trial or
// reporter, or when ctx is done.
func RunAll(ctx context.Context, node *shmpubsub.Node, cfg *Config, reporters ...Reporter) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	var announcers []Announcer
	for _, r := range reporters {
		if a, ok := r.(Announcer); ok {
			announcers = append(announcers, a)
		}
	}
	for _, trial := range cfg.Trials {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, a := range announcers {
			if err := a.AnnounceTrial(trial); err != nil {
				return fmt.Errorf("announce trial %s: %w", trial.Label(), err)
			}
		}
		res, err := run(ctx, node, cfg, trial, func(size int) error {
			for _, a := range announcers {
				if err := a.AnnounceMessage(trial, size); err != nil {
					return fmt.Errorf("announce message: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("trial %s: %w", trial.Label(), err)
		}
		for _, r := range reporters {
			if err := r.Report(res); err != nil {
				return fmt.Errorf("report trial %s: %w", trial.Label(), err)
			}
		}
	}
	return nil
}

// Run runs a single trial on node.
func Run(ctx context.Context, node *shmpubsub.Node, cfg *Config, trial Trial) (*Result, error) {
	return run(ctx, node, cfg, trial, nil)
}

// run runs a trial, calling ready with the message size before the first send.
func run(ctx context.Context, node *shmpubsub.Node, cfg *Config, trial Trial, ready func(size int) error) (_ *Result, err error) {
	logger := logger.WithFields(log.Fields{
		"topic":    cfg.Topic,
		"mode":     trial.Mode,
		"zerocopy": trial.ZeroCopy,
	})
	logger.Debug("Run trial")

	pub, err := shmpubsub.DeclarePublisher[*message.CompressedImage](node, cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("declare publisher: %w", err)
	}
	defer func() {
		if e := pub.Undeclare(); e != nil && err == nil {
			err = fmt.Errorf("undeclare publisher: %w", e)
		}
	}()
	pub.EnableZeroCopy(trial.ZeroCopy)
	pub.SetAcknowledgeTimeout(cfg.AckTimeout)

	var received atomic.Uint64
	sub, err := shmpubsub.DeclareSubscriber(node, cfg.Topic, &message.CompressedImage{},
		func(_ string, msg *message.CompressedImage, _ *net.DataInfo) {
			received.Add(uint64(msg.Size()))
		})
	if err != nil {
		return nil, fmt.Errorf("declare subscriber: %w", err)
	}
	defer func() {
		if e := sub.Undeclare(); e != nil && err == nil {
			err = fmt.Errorf("undeclare subscriber: %w", e)
		}
	}()

	if err := sleep(ctx, cfg.MatchDelay); err != nil {
		return nil, err
	}
	if pub.SubscriberCount() == 0 {
		logger.Warn("No subscriber matched, is loopback enabled?")
	}

	msg := message.NewCompressedImage(cfg.MessageSize, cfg.Format)
	send := sender(pub, trial.Mode, msg)
	if ready != nil {
		if err := ready(msg.Size()); err != nil {
			return nil, err
		}
	}

	// the first send creates the memory file
	if err := send(); err != nil {
		return nil, fmt.Errorf("initial send: %w", err)
	}
	received.Store(0)
	pubStats := pub.Stats()
	subStats := sub.Stats()

	res := &Result{
		Trial:       trial,
		Loops:       cfg.Loops,
		MessageSize: msg.Size(),
	}
	start := hrtime.Now()
	if cfg.Histogram {
		bench := hrtime.NewBenchmark(cfg.Loops)
		for bench.Next() {
			if err := send(); err != nil {
				return nil, fmt.Errorf("send: %w", err)
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		res.Elapsed = hrtime.Since(start)
		res.Histogram = bench.Histogram(HistogramBins)
	} else {
		for i := 0; i < cfg.Loops; i++ {
			if err := send(); err != nil {
				return nil, fmt.Errorf("send: %w", err)
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		res.Elapsed = hrtime.Since(start)
	}

	res.SentBytes = uint64(res.MessageSize) * uint64(cfg.Loops)
	res.ReceivedBytes = received.Load()
	res.AckTimeouts = pub.Stats().AckTimeouts - pubStats.AckTimeouts
	res.Dropped = sub.Stats().Dropped - subStats.Dropped

	logger.WithFields(log.Fields{
		"elapsed":     res.Elapsed,
		"sent":        res.SentBytes,
		"received":    res.ReceivedBytes,
		"acktimeouts": res.AckTimeouts,
		"dropped":     res.Dropped,
	}).Debug("Trial done")
	return res, nil
}

// sender returns the function sending msg once in the given mode.
func sender(pub *shmpubsub.Publisher[*message.CompressedImage], mode Mode, msg *message.CompressedImage) func() error {
	if mode == ModePayload {
		return func() error {
			return pub.Send(msg)
		}
	}
	buf := make([]byte, msg.Size())
	raw := pub.Raw()
	return func() error {
		if _, err := msg.MarshalTo(buf); err != nil {
			return err
		}
		return raw.Send(buf)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
