package model

import "math/rand"

// Weight policy for the adversarial pair. Both networks are
// initialized the same way before training starts.
const (
	convWeightStd  = 0.02
	normWeightMean = 1.0
	normWeightStd  = 0.02
)

// Initialize applies the weight policy to every tagged layer:
// convolutional weights ~ N(0, 0.02); normalization weight ~
// N(1, 0.02) with the bias cleared to zero. Any other kind keeps its
// construction-time values. Mutates the parameter tensors in place.
func Initialize(layers []Layer, rng *rand.Rand) {
	for _, l := range layers {
		switch p := l.(type) {
		case *Conv2D:
			fillNormal(p.Weight.Data().([]float64), 0, convWeightStd, rng)
		case *BatchNorm2D:
			fillNormal(p.Weight.Data().([]float64), normWeightMean, normWeightStd, rng)
			fill(p.Bias.Data().([]float64), 0)
		}
	}
}

func fillNormal(data []float64, mean, std float64, rng *rand.Rand) {
	for i := range data {
		data[i] = mean + std*rng.NormFloat64()
	}
}

func fill(data []float64, v float64) {
	for i := range data {
		data[i] = v
	}
}
