package ui

import "strings"

// SparklineChars are the eight bar heights, lowest first.
var SparklineChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline is a fixed-size ring of samples rendered as block characters.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// NewSparkline creates a sparkline holding up to size samples.
func NewSparkline(size int) *Sparkline {
	if size <= 0 {
		size = 60
	}
	return &Sparkline{samples: make([]float64, size)}
}

// Add appends a sample, overwriting the oldest when full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// recent returns up to n samples, oldest first.
func (s *Sparkline) recent(n int) []float64 {
	held := min(s.count, len(s.samples))
	n = min(n, held)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		idx := (s.head - n + i + len(s.samples)) % len(s.samples)
		out[i] = s.samples[idx]
	}
	return out
}

// Render renders the held samples at full size.
func (s *Sparkline) Render() string {
	return s.RenderWithWidth(len(s.samples))
}

// RenderWithWidth renders the most recent width samples, scaled to the
// largest of them and left-padded with spaces.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 {
		return ""
	}
	values := s.recent(width)
	peak := 0.0
	for _, v := range values {
		peak = max(peak, v)
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", width-len(values)))
	top := len(SparklineChars) - 1
	for _, v := range values {
		idx := 0
		if peak > 0 && v > 0 {
			idx = min(top, max(0, int(v/peak*float64(top)+0.5)))
		}
		sb.WriteRune(SparklineChars[idx])
	}
	return sb.String()
}

// Clear removes all samples.
func (s *Sparkline) Clear() {
	clear(s.samples)
	s.head = 0
	s.count = 0
}

// Count returns the number of samples added since the last Clear.
func (s *Sparkline) Count() int {
	return s.count
}
