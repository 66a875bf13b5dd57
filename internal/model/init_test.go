package model

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/stat"
)

func TestInitializeConvDistribution(t *testing.T) {
	conv := NewConv2D("c", 64, 64, 4, 2, 1)
	Initialize([]Layer{conv}, rand.New(rand.NewSource(1)))

	data := conv.Weight.Data().([]float64)
	if len(data) != 64*64*4*4 {
		t.Fatalf("unexpected weight count %d", len(data))
	}
	mean, std := stat.MeanStdDev(data, nil)
	if math.Abs(mean) > 0.001 {
		t.Fatalf("conv weight mean %.5f, want ~0", mean)
	}
	if math.Abs(std-0.02) > 0.001 {
		t.Fatalf("conv weight std %.5f, want ~0.02", std)
	}
}

func TestInitializeBatchNorm(t *testing.T) {
	bn := NewBatchNorm2D("bn", 512)
	// dirty the bias so the clear is observable
	for i := range bn.Bias.Data().([]float64) {
		bn.Bias.Data().([]float64)[i] = 3.14
	}
	Initialize([]Layer{bn}, rand.New(rand.NewSource(2)))

	weights := bn.Weight.Data().([]float64)
	mean, std := stat.MeanStdDev(weights, nil)
	if math.Abs(mean-1.0) > 0.005 {
		t.Fatalf("bn weight mean %.5f, want ~1", mean)
	}
	if math.Abs(std-0.02) > 0.005 {
		t.Fatalf("bn weight std %.5f, want ~0.02", std)
	}
	for i, v := range bn.Bias.Data().([]float64) {
		if v != 0 {
			t.Fatalf("bn bias[%d] = %f, want exactly 0", i, v)
		}
	}
}

func TestInitializeDeterministicUnderSeed(t *testing.T) {
	a := NewConv2D("a", 8, 8, 3, 1, 1)
	b := NewConv2D("b", 8, 8, 3, 1, 1)
	Initialize([]Layer{a}, rand.New(rand.NewSource(9)))
	Initialize([]Layer{b}, rand.New(rand.NewSource(9)))

	da := a.Weight.Data().([]float64)
	db := b.Weight.Data().([]float64)
	for i := range da {
		if da[i] != db[i] {
			t.Fatalf("weight %d differs across identical seeds", i)
		}
	}
}

func TestLayerKinds(t *testing.T) {
	if NewConv2D("c", 1, 1, 1, 1, 0).Kind() != KindConvolutional {
		t.Fatal("conv layer not tagged convolutional")
	}
	if NewBatchNorm2D("n", 4).Kind() != KindNormalization {
		t.Fatal("batch norm layer not tagged normalization")
	}
}
