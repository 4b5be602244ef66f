package utils

import (
	"sync"
	"time"
)

type Occurrence struct {
	At        time.Time
	ChannelID string
}

// Stats summarizes the live records of one key.
type Stats struct {
	Count    int
	Channels int
	Earliest time.Time
}

// OccurrenceLog keeps, per key, the arrival-ordered occurrences seen within
// the trailing window.
type OccurrenceLog struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string][]Occurrence
}

func NewOccurrenceLog(window time.Duration) *OccurrenceLog {
	return &OccurrenceLog{window: window, entries: make(map[string][]Occurrence)}
}

func (l *OccurrenceLog) Append(key string, at time.Time, channelID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = append(l.entries[key], Occurrence{At: at, ChannelID: channelID})
}

// Sweep evicts every record at or before now-window and drops keys left
// empty. Records may arrive out of order, so every record is checked. It
// returns the number of live records.
func (l *OccurrenceLog) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	live := 0
	for key, hits := range l.entries {
		kept := hits[:0]
		for _, hit := range hits {
			if hit.At.After(cutoff) {
				kept = append(kept, hit)
			}
		}
		if len(kept) == 0 {
			delete(l.entries, key)
			continue
		}
		l.entries[key] = kept
		live += len(kept)
	}
	return live
}

func (l *OccurrenceLog) Stats(key string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.entries[key]
	if len(hits) == 0 {
		return Stats{}
	}
	channels := make(map[string]struct{}, len(hits))
	earliest := hits[0].At
	for _, hit := range hits {
		channels[hit.ChannelID] = struct{}{}
		if hit.At.Before(earliest) {
			earliest = hit.At
		}
	}
	return Stats{Count: len(hits), Channels: len(channels), Earliest: earliest}
}

func (l *OccurrenceLog) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Oldest returns the earliest record across all keys.
func (l *OccurrenceLog) Oldest() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var oldest time.Time
	found := false
	for _, hits := range l.entries {
		for _, hit := range hits {
			if !found || hit.At.Before(oldest) {
				oldest = hit.At
				found = true
			}
		}
	}
	return oldest, found
}

func (l *OccurrenceLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
