package sample

import "github.com/chewxy/math32"

// PowerStats accumulates the mean and standard deviation of the power of
// every channel over a run.
type PowerStats struct {
	n    int
	mean []float64
	m2   []float64
}

// Add accumulates one sample. Channels beyond the first sample's count are
// ignored.
func (p *PowerStats) Add(s Sample) {
	if p.mean == nil {
		p.mean = make([]float64, len(s.Channels))
		p.m2 = make([]float64, len(s.Channels))
	}
	p.n++
	for i := range p.mean {
		if i >= len(s.Channels) {
			break
		}
		x := float64(s.Channels[i].Power)
		delta := x - p.mean[i]
		p.mean[i] += delta / float64(p.n)
		p.m2[i] += delta * (x - p.mean[i])
	}
}

// Count returns the number of accumulated samples.
func (p *PowerStats) Count() int {
	return p.n
}

// Mean returns the average power of channel ch in mW.
func (p *PowerStats) Mean(ch int) float32 {
	if ch >= len(p.mean) {
		return 0
	}
	return float32(p.mean[ch])
}

// StdDev returns the population standard deviation of the power of channel
// ch in mW.
func (p *PowerStats) StdDev(ch int) float32 {
	if p.n == 0 || ch >= len(p.m2) {
		return 0
	}
	return math32.Sqrt(float32(p.m2[ch] / float64(p.n)))
}

// Channels returns the number of tracked channels.
func (p *PowerStats) Channels() int {
	return len(p.mean)
}
