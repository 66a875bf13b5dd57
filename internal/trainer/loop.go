package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"ganforge/internal/dataset"
	"ganforge/internal/metrics"
	"ganforge/internal/model"
	"ganforge/internal/visual"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Adam moment decay rates, the standard DCGAN-stable choice for both
// networks. Fixed; only the learning rate is configurable.
const (
	adamBeta1 = 0.5
	adamBeta2 = 0.999
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Loader       *dataset.Loader
	ImgSize      int
	Channels     int
	LatentDim    int
	GenFeatures  int
	DiscFeatures int
	BatchSize    int
	NumEpochs    int
	LearningRate float64
	LogDir       string
	RunName      string
	LogEvery     int
	VizEvery     int
	Seed         int64
}

// Run executes the adversarial training workload.
func Run(ctx context.Context, cfg RunConfig) error {
	if cfg.Loader == nil {
		return errors.New("trainer: loader must be set")
	}
	if cfg.NumEpochs <= 0 {
		return errors.New("trainer: num epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("trainer: batch size must be > 0")
	}
	if cfg.LearningRate <= 0 {
		return errors.New("trainer: learning rate must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}
	if cfg.VizEvery <= 0 {
		cfg.VizEvery = 1000
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	gen, err := model.NewGenerator(cfg.LatentDim, cfg.GenFeatures, cfg.Channels, cfg.ImgSize)
	if err != nil {
		return fmt.Errorf("trainer: %w", err)
	}
	disc, err := model.NewDiscriminator(cfg.Channels, cfg.DiscFeatures, cfg.ImgSize)
	if err != nil {
		return fmt.Errorf("trainer: %w", err)
	}
	model.Initialize(gen.Layers(), rng)
	model.Initialize(disc.Layers(), rng)

	t, err := newTrainer(cfg, gen, disc, rng)
	if err != nil {
		return err
	}
	viz := visual.NewSampler(gen, rng, visual.Options{LogDir: cfg.LogDir, RunName: cfg.RunName})

	var window metrics.Window
	perEpoch := cfg.Loader.BatchesPerEpoch()
	iters := 0

	for epoch := 0; epoch < cfg.NumEpochs; epoch++ {
		batches, errCh := cfg.Loader.Epoch(ctx)
		for i := 0; ; i++ {
			startData := time.Now()
			batch, err := nextBatch(ctx, batches, errCh)
			if errors.Is(err, errEpochDone) {
				break
			}
			if err != nil {
				return err
			}
			dataTime := time.Since(startData)

			startCompute := time.Now()
			stats, err := t.step(batch.Images, epoch)
			if err != nil {
				return err
			}
			computeTime := time.Since(startCompute)

			window.Record(cfg.BatchSize, dataTime, computeTime, stats)

			if iters%cfg.LogEvery == 0 {
				snap := window.Snapshot()
				log.Printf("[%3d/%d][%3d/%d]\tLoss_D: %.4f\tLoss_G: %.4f\tD(x): %.4f\tD(G(z)): %.4f / %.4f",
					epoch, cfg.NumEpochs, i, perEpoch,
					stats.LossD(), stats.LossG, stats.DReal, stats.DFake, stats.DFakepost)
				log.Printf("images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f",
					snap.ImagesPerSec, snap.AvgDataMS, snap.AvgComputeMS)
			}
			if iters%cfg.VizEvery == 0 {
				if err := viz.Render(iters); err != nil {
					return err
				}
			}
			iters++
		}
	}
	return nil
}

var errEpochDone = errors.New("trainer: epoch done")

func nextBatch(ctx context.Context, batches <-chan dataset.Batch, errCh <-chan error) (dataset.Batch, error) {
	for {
		select {
		case <-ctx.Done():
			return dataset.Batch{}, ctx.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				return dataset.Batch{}, err
			}
			if !ok {
				errCh = nil
			}
		case b, ok := <-batches:
			if !ok {
				if errCh != nil {
					if err, ok := <-errCh; ok && err != nil {
						return dataset.Batch{}, err
					}
				}
				return dataset.Batch{}, errEpochDone
			}
			return b, nil
		}
	}
}

// ganTrainer owns the networks, the per-phase expression graphs and
// the optimizer state. Everything is threaded explicitly; there are
// no package-level globals.
//
// Static graphs force one graph per phase. All three share parameter
// storage through the model bindings, so an optimizer step taken in
// one phase is visible to the others immediately.
type ganTrainer struct {
	cfg RunConfig
	rng *rand.Rand

	gen  *model.Generator
	disc *model.Discriminator

	// host buffers, allocated once and refilled in place
	z          *tensor.Dense // [B, nz], fresh draw each iteration
	noiseReal  *tensor.Dense // [B, C, S, S]
	noiseFake  *tensor.Dense // [B, C, S, S], shared by the D fake pass and the G step
	fake       *tensor.Dense // detached copy of G(z)
	realLabels *tensor.Dense // all ones, filled once
	fakeLabels *tensor.Dense // all zeros, filled once

	fwd fwdPhase
	dPh dPhase
	gPh gPhase
}

// fwdPhase generates the fake batch that the discriminator trains
// against. Copying its output values into a plain input of the D
// graph is what detaches them: no gradient path leads back into the
// generator.
type fwdPhase struct {
	bind *model.GenBinding
	z    *G.Node
	out  G.Value
	vm   G.VM
}

// dPhase scores the noised real batch and the noised detached fakes
// through one shared discriminator binding. Both BCE terms sum into a
// single cost, so the one backward pass accumulates real and fake
// gradients onto the same buffer before the Adam step.
type dPhase struct {
	bind       *model.DiscBinding
	real       *G.Node
	fake       *G.Node
	noiseReal  *G.Node
	noiseFake  *G.Node
	labelsReal *G.Node
	labelsFake *G.Node

	lossReal G.Value
	lossFake G.Value
	meanReal G.Value
	meanFake G.Value

	learn  G.Nodes
	vm     G.VM
	solver G.Solver
}

// gPhase pushes the same latents through G and the freshly updated D
// against real labels. Gradients flow through the discriminator, but
// only generator parameters are stepped.
type gPhase struct {
	genBind  *model.GenBinding
	discBind *model.DiscBinding
	z        *G.Node
	noise    *G.Node
	labels   *G.Node

	loss    G.Value
	meanOut G.Value

	learn  G.Nodes
	vm     G.VM
	solver G.Solver
}

func newTrainer(cfg RunConfig, gen *model.Generator, disc *model.Discriminator, rng *rand.Rand) (*ganTrainer, error) {
	b, c, s, nz := cfg.BatchSize, cfg.Channels, cfg.ImgSize, cfg.LatentDim

	t := &ganTrainer{cfg: cfg, rng: rng, gen: gen, disc: disc}
	t.z = tensor.New(tensor.WithShape(b, nz), tensor.Of(tensor.Float64))
	t.noiseReal = tensor.New(tensor.WithShape(b, c, s, s), tensor.Of(tensor.Float64))
	t.noiseFake = tensor.New(tensor.WithShape(b, c, s, s), tensor.Of(tensor.Float64))
	t.fake = tensor.New(tensor.WithShape(b, c, s, s), tensor.Of(tensor.Float64))

	ones := make([]float64, b)
	for i := range ones {
		ones[i] = 1
	}
	t.realLabels = tensor.New(tensor.WithShape(b), tensor.WithBacking(ones))
	t.fakeLabels = tensor.New(tensor.WithShape(b), tensor.Of(tensor.Float64))

	// generator forward graph
	{
		g := G.NewGraph()
		t.fwd.z = G.NewMatrix(g, tensor.Float64, G.WithShape(b, nz), G.WithName("fwd.z"))
		t.fwd.bind = gen.Bind(g, true)
		out := t.fwd.bind.Forward(t.fwd.z)
		G.Read(out, &t.fwd.out)
		t.fwd.vm = G.NewTapeMachine(g)
	}

	// discriminator phase graph
	{
		g := G.NewGraph()
		d := &t.dPh
		d.bind = disc.Bind(g, true)
		d.real = G.NewTensor(g, tensor.Float64, 4, G.WithShape(b, c, s, s), G.WithName("d.real"))
		d.fake = G.NewTensor(g, tensor.Float64, 4, G.WithShape(b, c, s, s), G.WithName("d.fake"))
		d.noiseReal = G.NewTensor(g, tensor.Float64, 4, G.WithShape(b, c, s, s), G.WithName("d.noise_real"))
		d.noiseFake = G.NewTensor(g, tensor.Float64, 4, G.WithShape(b, c, s, s), G.WithName("d.noise_fake"))
		d.labelsReal = G.NewVector(g, tensor.Float64, G.WithShape(b), G.WithName("d.labels_real"))
		d.labelsFake = G.NewVector(g, tensor.Float64, G.WithShape(b), G.WithName("d.labels_fake"))

		outReal := d.bind.Forward(G.Must(G.Add(d.real, d.noiseReal)))
		outFake := d.bind.Forward(G.Must(G.Add(d.fake, d.noiseFake)))
		lossReal := bceLoss(outReal, d.labelsReal)
		lossFake := bceLoss(outFake, d.labelsFake)
		total := G.Must(G.Add(lossReal, lossFake))

		G.Read(lossReal, &d.lossReal)
		G.Read(lossFake, &d.lossFake)
		G.Read(G.Must(G.Mean(outReal)), &d.meanReal)
		G.Read(G.Must(G.Mean(outFake)), &d.meanFake)

		d.learn = d.bind.Learnables()
		if _, err := G.Grad(total, d.learn...); err != nil {
			return nil, fmt.Errorf("trainer: discriminator grad: %w", err)
		}
		d.vm = G.NewTapeMachine(g, G.BindDualValues(d.learn...))
		d.solver = G.NewAdamSolver(G.WithLearnRate(cfg.LearningRate), G.WithBeta1(adamBeta1), G.WithBeta2(adamBeta2))
	}

	// generator phase graph
	{
		g := G.NewGraph()
		p := &t.gPh
		p.genBind = gen.Bind(g, true)
		p.discBind = disc.Bind(g, true)
		p.z = G.NewMatrix(g, tensor.Float64, G.WithShape(b, nz), G.WithName("g.z"))
		p.noise = G.NewTensor(g, tensor.Float64, 4, G.WithShape(b, c, s, s), G.WithName("g.noise"))
		p.labels = G.NewVector(g, tensor.Float64, G.WithShape(b), G.WithName("g.labels"))

		fake := p.genBind.Forward(p.z)
		out := p.discBind.Forward(G.Must(G.Add(fake, p.noise)))
		loss := bceLoss(out, p.labels)

		G.Read(loss, &p.loss)
		G.Read(G.Must(G.Mean(out)), &p.meanOut)

		p.learn = p.genBind.Learnables()
		if _, err := G.Grad(loss, p.learn...); err != nil {
			return nil, fmt.Errorf("trainer: generator grad: %w", err)
		}
		p.vm = G.NewTapeMachine(g, G.BindDualValues(p.learn...))
		p.solver = G.NewAdamSolver(G.WithLearnRate(cfg.LearningRate), G.WithBeta1(adamBeta1), G.WithBeta2(adamBeta2))
	}

	return t, nil
}

// bceLoss is binary cross-entropy against a label vector, averaged
// over the batch. The epsilon keeps the logs finite when the
// discriminator saturates.
func bceLoss(output, labels *G.Node) *G.Node {
	one := G.NewConstant(1.0)
	eps := G.NewConstant(1e-12)

	pos := G.Must(G.HadamardProd(labels, G.Must(G.Log(G.Must(G.Add(output, eps))))))
	negLabels := G.Must(G.Sub(one, labels))
	negLog := G.Must(G.Log(G.Must(G.Add(G.Must(G.Sub(one, output)), eps))))
	neg := G.Must(G.HadamardProd(negLabels, negLog))

	return G.Must(G.Neg(G.Must(G.Mean(G.Must(G.Add(pos, neg))))))
}

// step runs one full adversarial iteration against a real batch:
// sample, generate, discriminator update, generator update. The
// ordering is strict; phases never interleave.
func (t *ganTrainer) step(real *tensor.Dense, epoch int) (metrics.StepStats, error) {
	sigma := NoiseStdDev(epoch, t.cfg.NumEpochs)
	fillNormal(t.z, 1, t.rng)
	fillNormal(t.noiseReal, sigma, t.rng)
	fillNormal(t.noiseFake, sigma, t.rng)

	var stats metrics.StepStats
	if err := t.runForward(); err != nil {
		return stats, err
	}
	if err := t.runDPhase(real, &stats); err != nil {
		return stats, err
	}
	if err := t.runGPhase(&stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func (t *ganTrainer) runForward() error {
	if err := G.Let(t.fwd.z, t.z); err != nil {
		return fmt.Errorf("trainer: bind latents: %w", err)
	}
	if err := t.fwd.vm.RunAll(); err != nil {
		return fmt.Errorf("trainer: generator forward: %w", err)
	}
	t.fwd.vm.Reset()
	t.fwd.bind.FlushStats()
	copy(t.fake.Data().([]float64), t.fwd.out.Data().([]float64))
	return nil
}

func (t *ganTrainer) runDPhase(real *tensor.Dense, stats *metrics.StepStats) error {
	d := &t.dPh
	binds := []struct {
		node *G.Node
		val  *tensor.Dense
	}{
		{d.real, real},
		{d.fake, t.fake},
		{d.noiseReal, t.noiseReal},
		{d.noiseFake, t.noiseFake},
		{d.labelsReal, t.realLabels},
		{d.labelsFake, t.fakeLabels},
	}
	for _, bind := range binds {
		if err := G.Let(bind.node, bind.val); err != nil {
			return fmt.Errorf("trainer: bind %s: %w", bind.node.Name(), err)
		}
	}
	if err := d.vm.RunAll(); err != nil {
		return fmt.Errorf("trainer: discriminator pass: %w", err)
	}
	stats.LossDReal = scalar(d.lossReal)
	stats.LossDFake = scalar(d.lossFake)
	stats.DReal = scalar(d.meanReal)
	stats.DFake = scalar(d.meanFake)
	if err := d.solver.Step(G.NodesToValueGrads(d.learn)); err != nil {
		return fmt.Errorf("trainer: discriminator step: %w", err)
	}
	d.vm.Reset()
	d.bind.FlushStats()
	return nil
}

func (t *ganTrainer) runGPhase(stats *metrics.StepStats) error {
	p := &t.gPh
	// the same latent batch and the same fake-pass noise as the
	// discriminator just saw
	if err := G.Let(p.z, t.z); err != nil {
		return fmt.Errorf("trainer: bind %s: %w", p.z.Name(), err)
	}
	if err := G.Let(p.noise, t.noiseFake); err != nil {
		return fmt.Errorf("trainer: bind %s: %w", p.noise.Name(), err)
	}
	// real labels: the generator wants fakes called real
	if err := G.Let(p.labels, t.realLabels); err != nil {
		return fmt.Errorf("trainer: bind %s: %w", p.labels.Name(), err)
	}
	if err := p.vm.RunAll(); err != nil {
		return fmt.Errorf("trainer: generator pass: %w", err)
	}
	stats.LossG = scalar(p.loss)
	stats.DFakepost = scalar(p.meanOut)
	if err := p.solver.Step(G.NodesToValueGrads(p.learn)); err != nil {
		return fmt.Errorf("trainer: generator step: %w", err)
	}
	p.vm.Reset()
	p.genBind.FlushStats()
	p.discBind.FlushStats()
	return nil
}

func scalar(v G.Value) float64 {
	return v.Data().(float64)
}
