package trainer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"ganforge/internal/dataset"
	"ganforge/internal/metrics"
	"ganforge/internal/model"

	"gorgonia.org/tensor"
)

func TestRunRejectsBadConfig(t *testing.T) {
	ctx := context.Background()
	loader := tinyLoader(t, 4, 2)

	cases := []struct {
		name string
		cfg  RunConfig
	}{
		{"no loader", RunConfig{NumEpochs: 1, BatchSize: 2, LearningRate: 0.01}},
		{"no epochs", RunConfig{Loader: loader, BatchSize: 2, LearningRate: 0.01}},
		{"no batch size", RunConfig{Loader: loader, NumEpochs: 1, LearningRate: 0.01}},
		{"no learning rate", RunConfig{Loader: loader, NumEpochs: 1, BatchSize: 2}},
		{"negative learning rate", RunConfig{Loader: loader, NumEpochs: 1, BatchSize: 2, LearningRate: -0.01}},
	}
	for _, tc := range cases {
		if err := Run(ctx, tc.cfg); err == nil {
			t.Fatalf("%s: expected config error", tc.name)
		}
	}
}

func newTinyTrainer(t *testing.T, seed int64) (*ganTrainer, *model.Discriminator) {
	t.Helper()
	cfg := RunConfig{
		ImgSize:      16,
		Channels:     3,
		LatentDim:    4,
		GenFeatures:  4,
		DiscFeatures: 4,
		BatchSize:    2,
		NumEpochs:    2,
		LearningRate: 0.0002,
		Seed:         seed,
	}
	rng := rand.New(rand.NewSource(seed))
	gen, err := model.NewGenerator(cfg.LatentDim, cfg.GenFeatures, cfg.Channels, cfg.ImgSize)
	if err != nil {
		t.Fatalf("NewGenerator error: %v", err)
	}
	disc, err := model.NewDiscriminator(cfg.Channels, cfg.DiscFeatures, cfg.ImgSize)
	if err != nil {
		t.Fatalf("NewDiscriminator error: %v", err)
	}
	model.Initialize(gen.Layers(), rng)
	model.Initialize(disc.Layers(), rng)
	tr, err := newTrainer(cfg, gen, disc, rng)
	if err != nil {
		t.Fatalf("newTrainer error: %v", err)
	}
	return tr, disc
}

func syntheticBatch(seed int64) *tensor.Dense {
	rng := rand.New(rand.NewSource(seed))
	backing := make([]float64, 2*3*16*16)
	for i := range backing {
		backing[i] = rng.Float64()*2 - 1
	}
	return tensor.New(tensor.WithShape(2, 3, 16, 16), tensor.WithBacking(backing))
}

func TestStepDeterministicUnderSeed(t *testing.T) {
	tr1, _ := newTinyTrainer(t, 77)
	tr2, _ := newTinyTrainer(t, 77)

	s1, err := tr1.step(syntheticBatch(5), 0)
	if err != nil {
		t.Fatalf("step error: %v", err)
	}
	s2, err := tr2.step(syntheticBatch(5), 0)
	if err != nil {
		t.Fatalf("step error: %v", err)
	}
	if s1 != s2 {
		t.Fatalf("identical seeds diverged: %+v vs %+v", s1, s2)
	}
}

func discParams(disc *model.Discriminator) [][]float64 {
	var out [][]float64
	for _, l := range disc.Layers() {
		switch p := l.(type) {
		case *model.Conv2D:
			out = append(out, append([]float64(nil), p.Weight.Data().([]float64)...))
		case *model.BatchNorm2D:
			out = append(out, append([]float64(nil), p.Weight.Data().([]float64)...))
			out = append(out, append([]float64(nil), p.Bias.Data().([]float64)...))
		}
	}
	return out
}

func sameParams(a, b [][]float64) bool {
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

func TestGeneratorStepLeavesDiscriminatorUntouched(t *testing.T) {
	tr, disc := newTinyTrainer(t, 11)

	// one full step so both solvers hold moment state
	if _, err := tr.step(syntheticBatch(5), 0); err != nil {
		t.Fatalf("step error: %v", err)
	}

	before := discParams(disc)
	var stats metrics.StepStats
	if err := tr.runGPhase(&stats); err != nil {
		t.Fatalf("runGPhase error: %v", err)
	}
	after := discParams(disc)
	if !sameParams(before, after) {
		t.Fatal("generator step modified discriminator parameters")
	}

	// the discriminator phase, by contrast, must move them
	if err := tr.runDPhase(syntheticBatch(6), &stats); err != nil {
		t.Fatalf("runDPhase error: %v", err)
	}
	moved := discParams(disc)
	if sameParams(before, moved) {
		t.Fatal("discriminator step left parameters unchanged")
	}
}

func TestRunEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training loop in short mode")
	}
	loader := tinyLoader(t, 4, 2)
	logDir := t.TempDir()

	cfg := RunConfig{
		Loader:       loader,
		ImgSize:      16,
		Channels:     3,
		LatentDim:    8,
		GenFeatures:  4,
		DiscFeatures: 4,
		BatchSize:    2,
		NumEpochs:    2,
		LearningRate: 0.0002,
		LogDir:       logDir,
		RunName:      "tiny-run",
		LogEvery:     50,
		VizEvery:     1000,
		Seed:         3,
	}
	if err := Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	// 4 iterations total; only iteration 0 hits the render interval
	for _, sub := range []string{"out", "interpolate"} {
		dir := filepath.Join(logDir, "tiny-run", sub)
		names, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("read %s: %v", dir, err)
		}
		if len(names) != 1 || names[0].Name() != "0000000.png" {
			t.Fatalf("expected exactly 0000000.png in %s, got %v", sub, names)
		}
	}
}

func tinyLoader(t *testing.T, images, batch int) *dataset.Loader {
	t.Helper()
	dir := t.TempDir()
	class := filepath.Join(dir, "all")
	if err := os.MkdirAll(class, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for i := 0; i < images; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 16, 16))
		for y := 0; y < 16; y++ {
			for x := 0; x < 16; x++ {
				img.SetRGBA(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: uint8(i * 60), A: 255})
			}
		}
		f, err := os.Create(filepath.Join(class, fmt.Sprintf("img%02d.png", i)))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	entries, _, err := dataset.Discover(dir)
	if err != nil {
		t.Fatalf("Discover error: %v", err)
	}
	loader, err := dataset.NewLoader(dataset.LoaderOptions{
		Entries:   entries,
		ImageSize: 16,
		Channels:  3,
		BatchSize: batch,
		Seed:      3,
	})
	if err != nil {
		t.Fatalf("NewLoader error: %v", err)
	}
	return loader
}
