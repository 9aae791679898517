// Package cadence maintains the incremental posting-frequency estimate for a
// mirrored newsletter.
package cadence

import "time"

const hoursPerDay = 24

// Estimate is the running cadence state carried on a newsletter record.
type Estimate struct {
	// Count is the total number of posts observed so far.
	Count int

	// FrequencyDays is the running average interval between posts in days.
	// Nil until at least one interval has been observed.
	FrequencyDays *float64

	// Watermark is the post date of the newest observed item.
	Watermark time.Time
}

// Update folds a batch of newly observed post dates (newest first) into the
// prior estimate. This is a streaming statistic: it never needs the full
// history, only the prior (count, frequency) pair and the new dates.
func Update(prior Estimate, newDates []time.Time) Estimate {
	next := Estimate{
		Count:         prior.Count + len(newDates),
		FrequencyDays: prior.FrequencyDays,
		Watermark:     prior.Watermark,
	}
	if len(newDates) == 0 {
		return next
	}

	next.Watermark = newDates[0]

	// A single new item has no interval of its own; synthesize a two-point
	// series against the prior watermark and fold it in with weight 1.
	series := newDates
	weight := len(newDates)
	if len(newDates) == 1 {
		series = []time.Time{newDates[0], prior.Watermark}
		weight = 1
	}

	newAvg := meanIntervalDays(series)

	if prior.FrequencyDays != nil && prior.Count > 0 {
		blended := (*prior.FrequencyDays*float64(prior.Count) + newAvg*float64(weight)) / float64(next.Count)
		next.FrequencyDays = &blended
	} else {
		next.FrequencyDays = &newAvg
	}
	return next
}

// meanIntervalDays computes the mean of consecutive intervals in days for a
// newest-first series of at least two dates.
func meanIntervalDays(dates []time.Time) float64 {
	var total float64
	for i := 0; i < len(dates)-1; i++ {
		total += dates[i].Sub(dates[i+1]).Hours() / hoursPerDay
	}
	return total / float64(len(dates)-1)
}

// InitialFrequency computes the starting average for a freshly imported
// archive slice (newest first). Returns nil when fewer than two dates are
// available.
func InitialFrequency(dates []time.Time) *float64 {
	if len(dates) < 2 {
		return nil
	}
	avg := meanIntervalDays(dates)
	return &avg
}
