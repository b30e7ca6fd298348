package throughput

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Reporter receives the result of every trial.
type Reporter interface {
	Report(res *Result) error
}

// Announcer is implemented by reporters that show progress while a trial
// runs. RunAll calls AnnounceTrial before the trial starts and
// AnnounceMessage once the message is built, before the first send.
type Announcer interface {
	AnnounceTrial(t Trial) error
	AnnounceMessage(t Trial, size int) error
}

const separator = "-----------------------------"

// ConsoleReporter prints results as a human readable block.
type ConsoleReporter struct {
	w io.Writer

	bannerShown bool
	sizeShown   bool
}

// NewConsoleReporter returns a ConsoleReporter writing to w.
func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{w: w}
}

// Banner prints the MODE/LAYER header of a trial.
func (c *ConsoleReporter) Banner(t Trial) error {
	_, err := fmt.Fprintf(c.w, "%s\nMODE         : %-14s\nLAYER        : %-14s\n%s\n",
		separator, t.ModeLabel(), t.LayerLabel(), separator)
	return err
}

// AnnounceTrial prints the banner of t.
func (c *ConsoleReporter) AnnounceTrial(t Trial) error {
	c.bannerShown = true
	return c.Banner(t)
}

// AnnounceMessage prints the message size line.
func (c *ConsoleReporter) AnnounceMessage(_ Trial, size int) error {
	c.sizeShown = true
	return c.messageSize(size)
}

func (c *ConsoleReporter) messageSize(size int) error {
	_, err := fmt.Fprintf(c.w, "Message Size : %d kB\n", size/1024)
	return err
}

// Report prints the figures of res, followed by an empty line. The banner and
// the message size are printed first unless they were already announced.
func (c *ConsoleReporter) Report(res *Result) error {
	bannerShown, sizeShown := c.bannerShown, c.sizeShown
	c.bannerShown, c.sizeShown = false, false
	if !bannerShown {
		if err := c.Banner(res.Trial); err != nil {
			return err
		}
	}
	if !sizeShown {
		if err := c.messageSize(res.MessageSize); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(c.w,
		"Elapsed time : %s s\n"+
			"Sent         : %d GB\n"+
			"Lost         : %d Byte\n"+
			"Latency      : %s ms \n"+
			"Frequency    : %d Hz \n"+
			"Throughput   : %d MB/s \n",
		formatFloat(res.Elapsed.Seconds()),
		res.SentGB(),
		res.Lost(),
		formatFloat(res.LatencyMS()),
		res.FrequencyHz(),
		res.ThroughputMBs())
	if err != nil {
		return err
	}
	if res.Histogram != nil {
		if _, err := fmt.Fprintf(c.w, "%v", res.Histogram); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(c.w)
	return err
}

// formatFloat prints six significant digits.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

// LogReporter emits one log entry per result.
type LogReporter struct {
	entry *log.Entry
}

// NewLogReporter returns a LogReporter logging to entry, or to the package
// logger when entry is nil.
func NewLogReporter(entry *log.Entry) *LogReporter {
	if entry == nil {
		entry = logger
	}
	return &LogReporter{entry: entry}
}

// Report logs res at info level.
func (l *LogReporter) Report(res *Result) error {
	l.entry.WithFields(log.Fields{
		"mode":        res.Trial.ModeLabel(),
		"layer":       res.Trial.LayerLabel(),
		"size_kb":     res.MessageSizeKB(),
		"elapsed":     res.Elapsed,
		"sent_gb":     res.SentGB(),
		"lost":        res.Lost(),
		"latency_ms":  res.LatencyMS(),
		"frequency":   res.FrequencyHz(),
		"throughput":  res.ThroughputMBs(),
		"acktimeouts": res.AckTimeouts,
		"dropped":     res.Dropped,
	}).Info("Trial result")
	return nil
}

// Record is the JSON form of a Result.
type Record struct {
	Mode          string  `json:"mode"`
	Layer         string  `json:"layer"`
	Loops         int     `json:"loops"`
	MessageSize   int     `json:"message_size"`
	ElapsedSec    float64 `json:"elapsed_s"`
	SentBytes     uint64  `json:"sent_bytes"`
	ReceivedBytes uint64  `json:"received_bytes"`
	LostBytes     int64   `json:"lost_bytes"`
	LatencyMS     float64 `json:"latency_ms"`
	FrequencyHz   int     `json:"frequency_hz"`
	ThroughputMBs int     `json:"throughput_mbs"`
	AckTimeouts   uint64  `json:"ack_timeouts"`
	Dropped       uint64  `json:"dropped"`
}

// NewRecord converts res into a Record.
func NewRecord(res *Result) Record {
	return Record{
		Mode:          res.Trial.ModeLabel(),
		Layer:         res.Trial.LayerLabel(),
		Loops:         res.Loops,
		MessageSize:   res.MessageSize,
		ElapsedSec:    res.Elapsed.Seconds(),
		SentBytes:     res.SentBytes,
		ReceivedBytes: res.ReceivedBytes,
		LostBytes:     res.Lost(),
		LatencyMS:     res.LatencyMS(),
		FrequencyHz:   res.FrequencyHz(),
		ThroughputMBs: res.ThroughputMBs(),
		AckTimeouts:   res.AckTimeouts,
		Dropped:       res.Dropped,
	}
}

// WebsocketReporter streams results as JSON text messages to a websocket
// endpoint.
type WebsocketReporter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// DialWebsocketReporter connects to url.
func DialWebsocketReporter(ctx context.Context, url string) (*WebsocketReporter, error) {
	logger.WithField("url", url).Debug("DialWebsocketReporter")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &WebsocketReporter{conn: conn}, nil
}

// Report sends res as a Record.
func (w *WebsocketReporter) Report(res *Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteJSON(NewRecord(res)); err != nil {
		return fmt.Errorf("websocket report: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (w *WebsocketReporter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		logger.WithField("error", err).Debug("Websocket close frame not sent")
	}
	return w.conn.Close()
}
