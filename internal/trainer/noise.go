package trainer

import (
	"math/rand"

	"gorgonia.org/tensor"
)

// noiseBaseStd is the instance-noise scale at epoch zero.
const noiseBaseStd = 0.1

// NoiseStdDev returns the instance-noise standard deviation for an
// epoch. It decays linearly from noiseBaseStd to zero across the run,
// removing the regularizer as the discriminator converges.
func NoiseStdDev(epoch, totalEpochs int) float64 {
	return noiseBaseStd * float64(totalEpochs-epoch) / float64(totalEpochs)
}

// fillNormal overwrites dst with i.i.d. draws from N(0, std).
func fillNormal(dst *tensor.Dense, std float64, rng *rand.Rand) {
	data := dst.Data().([]float64)
	for i := range data {
		data[i] = std * rng.NormFloat64()
	}
}
