package exchange

import (
	"sync"
	"time"
)

// TimeSync keeps a clock offset against a venue's server time so signed
// requests land inside the venue's receive window.
type TimeSync struct {
	getServerTime func() (int64, error)
	offset        int64
	lastSync      time.Time
	syncInterval  time.Duration
	mu            sync.RWMutex
}

// NewTimeSync builds a TimeSync around a server-time fetcher.
func NewTimeSync(getServerTime func() (int64, error)) *TimeSync {
	return &TimeSync{
		getServerTime: getServerTime,
		syncInterval:  30 * time.Minute,
	}
}

// Sync re-measures the offset against the venue's server clock.
func (ts *TimeSync) Sync() error {
	localBefore := time.Now().UnixMilli()
	serverTime, err := ts.getServerTime()
	if err != nil {
		return err
	}
	localAfter := time.Now().UnixMilli()

	networkLatency := (localAfter - localBefore) / 2
	localTime := localBefore + networkLatency

	ts.mu.Lock()
	ts.offset = serverTime - localTime
	ts.lastSync = time.Now()
	ts.mu.Unlock()
	return nil
}

// Now returns the current time adjusted by the measured offset.
func (ts *TimeSync) Now() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

// Offset returns the current measured offset in milliseconds.
func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}

// Stale reports whether the offset hasn't been refreshed recently.
func (ts *TimeSync) Stale() bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastSync.IsZero() || time.Since(ts.lastSync) > ts.syncInterval
}
