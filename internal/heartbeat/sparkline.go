package heartbeat

import (
	"iter"
	"time"

	"workshop/internal/constants"
)

// Point is one downsampled bucket of a sparkline
type Point struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Samples      int       `json:"samples"`
	Successes    int       `json:"successes"`
	Uptime       float64   `json:"uptime"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	Status       string    `json:"status"`
}

// Point statuses
const (
	PointHealthy  = "healthy"
	PointDegraded = "degraded"
	PointDown     = "down"
)

// Sparkline returns at most points buckets covering the last window of a
// service's history, clipped to what is available. The sequence is lazy:
// history is read when iteration starts, and every range over it starts
// again from the current history. A non-positive window means all history.
func (e *Engine) Sparkline(id string, window time.Duration, points int) iter.Seq[Point] {
	if points <= 0 {
		points = constants.DefaultSparklinePoints
	}

	return func(yield func(Point) bool) {
		samples := e.window(id, window)
		n := len(samples)
		if n == 0 {
			return
		}

		buckets := min(points, n)
		for i := 0; i < buckets; i++ {
			lo := i * n / buckets
			hi := (i + 1) * n / buckets
			if !yield(summarize(samples[lo:hi])) {
				return
			}
		}
	}
}

// window returns the samples newer than now-window, oldest first
func (e *Engine) window(id string, window time.Duration) []Sample {
	samples := e.Samples(id)
	if window <= 0 {
		return samples
	}

	cutoff := e.now().Add(-window)
	for i, s := range samples {
		if !s.Timestamp.Before(cutoff) {
			return samples[i:]
		}
	}
	return nil
}

func summarize(bucket []Sample) Point {
	p := Point{
		Start:   bucket[0].Timestamp,
		End:     bucket[len(bucket)-1].Timestamp,
		Samples: len(bucket),
	}

	var latency time.Duration
	for _, s := range bucket {
		if s.Success {
			p.Successes++
		}
		latency += s.Latency
	}

	p.Uptime = float64(p.Successes) / float64(p.Samples)
	p.AvgLatencyMS = float64(latency.Microseconds()) / float64(p.Samples) / 1000

	switch p.Successes {
	case p.Samples:
		p.Status = PointHealthy
	case 0:
		p.Status = PointDown
	default:
		p.Status = PointDegraded
	}
	return p
}
