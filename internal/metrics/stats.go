package metrics

import "time"

// StepStats carries the scalar diagnostics of one adversarial
// iteration.
type StepStats struct {
	LossDReal float64 // BCE of D on the real batch
	LossDFake float64 // BCE of D on the detached fake batch
	LossG     float64 // BCE of G against real labels
	DReal     float64 // mean D output on real images
	DFake     float64 // mean D output on fakes, before the G step
	DFakepost float64 // mean D output on fakes, after the G step
}

// LossD is the reported discriminator loss: the sum of the real and
// fake terms, not their average.
func (s StepStats) LossD() float64 {
	return s.LossDReal + s.LossDFake
}

// Window accumulates timing stats across multiple steps.
type Window struct {
	samples int
	data    time.Duration
	compute time.Duration
	steps   int
	last    StepStats
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, stats StepStats) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.last = stats
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}
	snap.Last = w.last

	w.samples = 0
	w.data = 0
	w.compute = 0
	w.steps = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	Last         StepStats
}
