package telemetry

// Sample is a point-in-time copy of the metrics block.
type Sample struct {
	Time     float64
	Sequence int32
	Values   [metricCount]float64
}

// Value returns the sampled value of m.
func (s Sample) Value(m Metric) float64 {
	if m < 0 || m >= metricCount {
		return 0
	}
	return s.Values[m]
}

// Sample snapshots every metric together with the header.
func (s *Segment) Sample() Sample {
	out := Sample{Time: s.Timestamp(), Sequence: s.Sequence()}
	for m := range metricCount {
		out.Values[m] = s.Value(m)
	}
	return out
}

// Rate returns the per-second change of m between two samples. Elapsed
// times of zero or less, and counters that went backwards, yield 0.
func Rate(a, b Sample, m Metric) float64 {
	dt := b.Time - a.Time
	if dt <= 0 {
		return 0
	}
	delta := b.Value(m) - a.Value(m)
	if delta < 0 {
		return 0
	}
	return delta / dt
}
