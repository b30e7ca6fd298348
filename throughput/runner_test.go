package throughput

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/atolab/shmpubsub"
	"github.com/atolab/shmpubsub/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestNode(t *testing.T, loopback bool) *shmpubsub.Node {
	t.Helper()
	node, err := shmpubsub.Open(net.WithSegmentDir(t.TempDir()), net.WithLoopback(loopback))
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	return node
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Loops = 16
	cfg.MessageSize = 64 * 1024
	cfg.AckTimeout = 5 * time.Second
	cfg.MatchDelay = 0
	return cfg
}

type collector struct {
	results []*Result
}

func (c *collector) Report(res *Result) error {
	c.results = append(c.results, res)
	return nil
}

func TestRunAcknowledged(t *testing.T) {
	node := openTestNode(t, true)
	cfg := testConfig()

	for _, trial := range cfg.Trials {
		t.Run(trial.Label(), func(t *testing.T) {
			res, err := Run(context.Background(), node, cfg, trial)
			require.NoError(t, err)
			assert.Equal(t, trial, res.Trial)
			assert.Equal(t, 64*1024+9, res.MessageSize)
			assert.Equal(t, uint64(res.MessageSize)*16, res.SentBytes)
			assert.Equal(t, res.SentBytes, res.ReceivedBytes)
			assert.Zero(t, res.Lost())
			assert.Zero(t, res.AckTimeouts)
			assert.Zero(t, res.Dropped)
			assert.Positive(t, res.Elapsed)
			assert.Nil(t, res.Histogram)
		})
	}
	assert.Empty(t, node.Admin().GetTopics())
}

func TestRunWithoutMatch(t *testing.T) {
	node := openTestNode(t, false)
	cfg := testConfig()

	res, err := Run(context.Background(), node, cfg, Trial{Mode: ModePayload})
	require.NoError(t, err)
	assert.Zero(t, res.ReceivedBytes)
	assert.Equal(t, int64(res.SentBytes), res.Lost())
}

func TestRunHistogram(t *testing.T) {
	node := openTestNode(t, true)
	cfg := testConfig()
	cfg.Histogram = true

	res, err := Run(context.Background(), node, cfg, Trial{Mode: ModeBuffer, ZeroCopy: true})
	require.NoError(t, err)
	require.NotNil(t, res.Histogram)
	assert.Equal(t, res.SentBytes, res.ReceivedBytes)

	var out bytes.Buffer
	require.NoError(t, NewConsoleReporter(&out).Report(res))
	assert.Contains(t, out.String(), "Throughput   : ")
}

func TestRunCancelledDuringMatch(t *testing.T) {
	node := openTestNode(t, true)
	cfg := testConfig()
	cfg.MatchDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := Run(ctx, node, cfg, cfg.Trials[0])
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, node.Admin().GetTopics())
}

func TestRunAll(t *testing.T) {
	node := openTestNode(t, true)
	cfg := testConfig()
	cfg.Loops = 4

	var c collector
	var out bytes.Buffer
	require.NoError(t, RunAll(context.Background(), node, cfg, &c, NewConsoleReporter(&out)))
	require.Len(t, c.results, 4)
	for i, res := range c.results {
		assert.Equal(t, cfg.Trials[i], res.Trial)
	}
	assert.Equal(t, 4, strings.Count(out.String(), "Message Size : 64 kB"))
	assert.Equal(t, 2, strings.Count(out.String(), "LAYER        : SHM ZERO-COPY"))
}

func TestRunAllStopsWhenCancelled(t *testing.T) {
	node := openTestNode(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var c collector
	err := RunAll(ctx, node, testConfig(), &c)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.results)
}

func TestRunAllRejectsInvalidConfig(t *testing.T) {
	node := openTestNode(t, true)
	cfg := testConfig()
	cfg.Loops = 0
	assert.Error(t, RunAll(context.Background(), node, cfg))
}

type eventRecorder struct {
	events []string
}

func (e *eventRecorder) AnnounceTrial(t Trial) error {
	e.events = append(e.events, "trial "+t.Label())
	return nil
}

func (e *eventRecorder) AnnounceMessage(_ Trial, size int) error {
	e.events = append(e.events, "message "+strconv.Itoa(size))
	return nil
}

func (e *eventRecorder) Report(res *Result) error {
	e.events = append(e.events, "result "+res.Trial.Label())
	return nil
}

func TestRunAllAnnouncesBeforeResults(t *testing.T) {
	node := openTestNode(t, true)
	cfg := testConfig()
	cfg.Loops = 2
	cfg.Trials = cfg.Trials[:2]

	var rec eventRecorder
	var out bytes.Buffer
	require.NoError(t, RunAll(context.Background(), node, cfg, &rec, NewConsoleReporter(&out)))
	assert.Equal(t, []string{
		"trial BUFFER / SHM", "message 65545", "result BUFFER / SHM",
		"trial BUFFER / SHM ZERO-COPY", "message 65545", "result BUFFER / SHM ZERO-COPY",
	}, rec.events)

	assert.Equal(t, 2, strings.Count(out.String(), "MODE         : "))
	assert.Equal(t, 2, strings.Count(out.String(), "Message Size : 64 kB"))
	block := strings.Split(out.String(), "\n")
	assert.Equal(t, "MODE         : BUFFER        ", block[1])
	assert.Equal(t, "Message Size : 64 kB", block[4])
	assert.True(t, strings.HasPrefix(block[5], "Elapsed time : "))
}

func TestRunCancelledDuringLoop(t *testing.T) {
	for _, histogram := range []bool{false, true} {
		t.Run("histogram="+strconv.FormatBool(histogram), func(t *testing.T) {
			node := openTestNode(t, true)
			cfg := testConfig()
			cfg.Loops = 1 << 30
			cfg.MessageSize = 16
			cfg.AckTimeout = 0
			cfg.Histogram = histogram
			if histogram {
				cfg.Loops = 1 << 21
			}

			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(50*time.Millisecond, cancel)
			done := make(chan error, 1)
			go func() {
				_, err := Run(ctx, node, cfg, Trial{Mode: ModePayload})
				done <- err
			}()
			select {
			case err := <-done:
				assert.ErrorIs(t, err, context.Canceled)
			case <-time.After(30 * time.Second):
				t.Fatal("trial not cancelled")
			}
		})
	}
}
