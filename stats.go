// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"fmt"
	"sync/atomic"
)

// Stats summarizes the lookups served by a table.
type Stats struct {
	TotalGets      int64
	FoundGets      int64
	MissedGets     int64
	MaxGetDistance int64
	SumGetDistance int64
}

// AvgGetDistance returns the mean probe distance over all lookups.
func (s Stats) AvgGetDistance() float64 {
	if s.TotalGets == 0 {
		return 0
	}
	return float64(s.SumGetDistance) / float64(s.TotalGets)
}

func (s Stats) String() string {
	return fmt.Sprintf("totalGet=%d foundGet=%d missedGet=%d maxGetDistance=%d avgGetDistance=%.3f",
		s.TotalGets, s.FoundGets, s.MissedGets, s.MaxGetDistance, s.AvgGetDistance())
}

// statsCollector is shared by concurrent lookups.  A nil collector
// discards everything.
type statsCollector struct {
	total   atomic.Int64
	found   atomic.Int64
	missed  atomic.Int64
	maxDist atomic.Int64
	sumDist atomic.Int64
}

func (c *statsCollector) addGet(found bool, dist int) {
	if c == nil {
		return
	}
	c.total.Add(1)
	if found {
		c.found.Add(1)
	} else {
		c.missed.Add(1)
	}
	d := int64(dist)
	c.sumDist.Add(d)
	for {
		cur := c.maxDist.Load()
		if d <= cur || c.maxDist.CompareAndSwap(cur, d) {
			return
		}
	}
}

func (c *statsCollector) snapshot() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		TotalGets:      c.total.Load(),
		FoundGets:      c.found.Load(),
		MissedGets:     c.missed.Load(),
		MaxGetDistance: c.maxDist.Load(),
		SumGetDistance: c.sumDist.Load(),
	}
}
