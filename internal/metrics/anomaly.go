package metrics

import (
	"math"
	"strconv"
	"sync"

	"github.com/crimson-sun/pulse/internal/model"
)

const (
	// anomalyWindow is how many recent values the rolling statistics cover.
	anomalyWindow = 64
	// anomalyMinSamples gates detection until the window has enough history
	// for the stddev to mean anything.
	anomalyMinSamples = 10
)

// Detector flags samples that deviate from their own recent history.
//
// Per metric name it keeps a fixed-size ring of recent values; a new value
// whose z-score against the ring's mean/stddev exceeds the threshold yields
// a "<name>.anomaly" sample whose value is the z-score. The triggering
// value still enters the ring, so a sustained shift stops alerting once it
// becomes the new normal.
type Detector struct {
	mu        sync.Mutex
	threshold float64
	series    map[string]*ring
}

// NewDetector creates a detector with the given z-score threshold.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = 3.0
	}
	return &Detector{threshold: threshold, series: make(map[string]*ring)}
}

// Observe feeds one sample and returns an anomaly sample if it is an
// outlier, or nil. Anomaly samples themselves are not re-observed.
func (d *Detector) Observe(s model.MetricSample) *model.MetricSample {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.series[s.Name]
	if !ok {
		r = &ring{}
		d.series[s.Name] = r
	}

	var out *model.MetricSample
	if r.count >= anomalyMinSamples {
		mean, stddev := r.stats()
		if stddev > 0 {
			z := math.Abs(s.Value-mean) / stddev
			if z >= d.threshold {
				out = &model.MetricSample{
					Name:      s.Name + ".anomaly",
					Value:     z,
					Timestamp: s.Timestamp,
					Tags:      anomalyTags(s, mean),
				}
			}
		}
	}
	r.push(s.Value)
	return out
}

func anomalyTags(s model.MetricSample, mean float64) map[string]string {
	tags := make(map[string]string, len(s.Tags)+1)
	for k, v := range s.Tags {
		tags[k] = v
	}
	tags["baseline"] = formatFloat(mean)
	return tags
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// ring is a fixed-size circular buffer of float64 with incremental
// mean/variance via the stored values (window is small, recompute is fine).
type ring struct {
	values [anomalyWindow]float64
	next   int
	count  int
}

func (r *ring) push(v float64) {
	r.values[r.next] = v
	r.next = (r.next + 1) % anomalyWindow
	if r.count < anomalyWindow {
		r.count++
	}
}

func (r *ring) stats() (mean, stddev float64) {
	if r.count == 0 {
		return 0, 0
	}
	var sum float64
	for i := 0; i < r.count; i++ {
		sum += r.values[i]
	}
	mean = sum / float64(r.count)

	var sq float64
	for i := 0; i < r.count; i++ {
		d := r.values[i] - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(r.count))
	return mean, stddev
}
