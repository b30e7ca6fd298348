package throughput

import (
	"time"

	"github.com/loov/hrtime"
)

// Result holds the counters of one trial.
type Result struct {
	Trial         Trial
	Loops         int
	MessageSize   int
	Elapsed       time.Duration
	SentBytes     uint64
	ReceivedBytes uint64
	AckTimeouts   uint64
	Dropped       uint64

	// Histogram of the per-send durations, nil unless Config.Histogram is set.
	Histogram *hrtime.Histogram
}

// MessageSizeKB returns the message size in kB, rounded down.
func (r *Result) MessageSizeKB() int {
	return r.MessageSize / 1024
}

// SentGB returns the sent volume in GB, rounded down.
func (r *Result) SentGB() uint64 {
	return r.SentBytes / (1024 * 1024 * 1024)
}

// Lost returns the bytes sent minus the bytes received. It may be negative
// when data published before the measured loop arrives late.
func (r *Result) Lost() int64 {
	return int64(r.SentBytes) - int64(r.ReceivedBytes)
}

// LatencyMS returns the mean time between two sends in milliseconds.
func (r *Result) LatencyMS() float64 {
	if r.Loops <= 0 {
		return 0
	}
	return r.Elapsed.Seconds() * 1000 / float64(r.Loops)
}

// FrequencyHz returns the number of sends per second.
func (r *Result) FrequencyHz() int {
	s := r.Elapsed.Seconds()
	if s <= 0 {
		return 0
	}
	return int(float64(r.Loops) / s)
}

// ThroughputMBs returns the sent volume per second in MB/s.
func (r *Result) ThroughputMBs() int {
	s := r.Elapsed.Seconds()
	if s <= 0 {
		return 0
	}
	return int(float64(r.SentBytes) / (1024 * 1024) / s)
}
