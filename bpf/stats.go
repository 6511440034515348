package bpf

import "sync/atomic"

// Stats counts what an event channel delivered over its lifetime.
type Stats struct {
	Polls             uint64 `json:"polls"`
	Events            uint64 `json:"events"`
	LostNotifications uint64 `json:"lost_notifications"`
	LostSamples       uint64 `json:"lost_samples"`
}

// counters are updated while polling and read concurrently through Stats.
type counters struct {
	polls             atomic.Uint64
	events            atomic.Uint64
	lostNotifications atomic.Uint64
	lostSamples       atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Polls:             c.polls.Load(),
		Events:            c.events.Load(),
		LostNotifications: c.lostNotifications.Load(),
		LostSamples:       c.lostSamples.Load(),
	}
}
