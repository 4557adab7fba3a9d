package metrics

import (
	"testing"
	"time"

	"github.com/crimson-sun/pulse/internal/model"
)

func feed(d *Detector, name string, values ...float64) *model.MetricSample {
	var last *model.MetricSample
	for _, v := range values {
		last = d.Observe(model.MetricSample{
			Name:      name,
			Value:     v,
			Timestamp: time.Now(),
			Tags:      map[string]string{"source": "api"},
		})
	}
	return last
}

func TestDetectorFlagsOutlier(t *testing.T) {
	d := NewDetector(3.0)

	// Stable baseline around 100 with small spread, then a 10x spike.
	feed(d, "gauge.query_ms", 99, 101, 100, 98, 102, 100, 99, 101, 100, 100, 99, 101)
	out := feed(d, "gauge.query_ms", 1000)
	if out == nil {
		t.Fatal("10x spike not flagged")
	}
	if out.Name != "gauge.query_ms.anomaly" {
		t.Errorf("anomaly name = %q", out.Name)
	}
	if out.Value < 3.0 {
		t.Errorf("z-score = %v, want >= threshold", out.Value)
	}
	if out.Tags["source"] != "api" {
		t.Error("original tags not carried onto anomaly sample")
	}
	if out.Tags["baseline"] == "" {
		t.Error("baseline tag missing")
	}
}

func TestDetectorQuietUntilEnoughHistory(t *testing.T) {
	d := NewDetector(3.0)

	// Fewer than the minimum samples: even a wild value stays unflagged.
	if out := feed(d, "m", 1, 2, 1, 2, 1, 100000); out != nil {
		t.Errorf("flagged with only %d prior samples", 5)
	}
}

func TestDetectorNormalValuesPass(t *testing.T) {
	d := NewDetector(3.0)

	feed(d, "m", 10, 11, 9, 10, 12, 8, 10, 11, 9, 10, 11, 10)
	if out := feed(d, "m", 11); out != nil {
		t.Errorf("in-range value flagged: %+v", out)
	}
}

func TestDetectorSeriesAreIndependent(t *testing.T) {
	d := NewDetector(3.0)

	feed(d, "a", 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100)
	// A fresh series has no history; its first values must not be judged
	// against series "a".
	if out := feed(d, "b", 5); out != nil {
		t.Errorf("fresh series judged against foreign history: %+v", out)
	}
}

func TestDetectorConstantSeriesNeverFlags(t *testing.T) {
	d := NewDetector(3.0)

	// Zero stddev: identical repeats must not divide by zero or flag.
	if out := feed(d, "m", 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5); out != nil {
		t.Errorf("constant series flagged: %+v", out)
	}
}

func TestDetectorAdaptsToNewNormal(t *testing.T) {
	d := NewDetector(3.0)

	feed(d, "m", 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10)
	if out := feed(d, "m", 500); out == nil {
		t.Fatal("level shift not flagged")
	}

	// Sustained at the new level: once the window fills with 500s the
	// detector goes quiet again.
	values := make([]float64, anomalyWindow)
	for i := range values {
		values[i] = 500
	}
	feed(d, "m", values...)
	if out := feed(d, "m", 500); out != nil {
		t.Errorf("new normal still flagged: %+v", out)
	}
}
