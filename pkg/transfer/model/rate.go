package model

import "time"

// RateSample is a point-in-time snapshot of one stream's progress over a
// reporting window. It is derived from the stream's counters, printed, and
// never persisted.
type RateSample struct {
	// Stream is the 1-based index of the stream this sample belongs to.
	Stream int
	// LocalAddr and RemoteAddr are the stream's TCP endpoints (ip:port).
	LocalAddr  string
	RemoteAddr string
	// Start is when the stream started. It anchors the window offsets in
	// printed reports.
	Start time.Time
	// WindowStart is when the reporting window opened.
	WindowStart time.Time
	// WindowEnd is when the sample was taken.
	WindowEnd time.Time
	// ByteDelta is the number of payload bytes transferred inside the
	// window.
	ByteDelta int64
}

// MBps returns the window's transfer rate in megabytes per second. Interval
// reports use bytes, final summaries use bits (see Summary.Mbps).
func (s RateSample) MBps() float64 {
	elapsed := s.WindowEnd.Sub(s.WindowStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.ByteDelta) / elapsed / 1e6
}

// Summary is the final accounting for one completed stream.
type Summary struct {
	// Stream is the 1-based index of the stream.
	Stream int
	// LocalAddr and RemoteAddr are the stream's TCP endpoints (ip:port).
	LocalAddr  string
	RemoteAddr string
	// StartTime is when the first payload byte was sent or received.
	StartTime time.Time
	// EndTime is when the last payload byte was sent or received. It does
	// not include the teardown exchange.
	EndTime time.Time
	// Bytes is the total payload transferred. Greeting and teardown
	// markers are not payload.
	Bytes int64
	// Truncated reports that the peer went away before completing the
	// teardown exchange, so Bytes is a lower bound.
	Truncated bool
}

// Elapsed returns the payload transfer time.
func (s Summary) Elapsed() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Mbps returns the stream's average rate in megabits per second.
func (s Summary) Mbps() float64 {
	elapsed := s.Elapsed().Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Bytes) * 8 / elapsed / 1e6
}
