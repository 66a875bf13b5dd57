package visual

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"ganforge/internal/model"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	// gridCount latents per artifact, rendered as a gridCols-wide grid.
	gridCount   = 64
	gridCols    = 8
	gridPadding = 2
)

// Sampler holds two immutable latent artifacts — a fixed batch and a
// linear interpolation walk between two anchors — and renders both
// through an eval-mode generator binding.
type Sampler struct {
	fixed  *tensor.Dense // [gridCount, nz]
	interp *tensor.Dense // [gridCount, nz]

	outDir    string
	interpDir string

	zIn *G.Node
	out G.Value
	vm  G.VM
}

// Options locate the sampler's output directories.
type Options struct {
	LogDir  string
	RunName string
}

// NewSampler draws both artifacts exactly once from rng and compiles
// the forward-only render machine. No gradients are tracked.
func NewSampler(gen *model.Generator, rng *rand.Rand, opts Options) *Sampler {
	nz := gen.LatentDim

	fixed := make([]float64, gridCount*nz)
	for i := range fixed {
		fixed[i] = rng.NormFloat64()
	}
	z1 := make([]float64, nz)
	z2 := make([]float64, nz)
	for i := 0; i < nz; i++ {
		z1[i] = rng.NormFloat64()
	}
	for i := 0; i < nz; i++ {
		z2[i] = rng.NormFloat64()
	}

	g := G.NewGraph()
	zIn := G.NewMatrix(g, tensor.Float64, G.WithShape(gridCount, nz), G.WithName("viz.z"))
	outNode := gen.Bind(g, false).Forward(zIn)

	s := &Sampler{
		fixed:     tensor.New(tensor.WithShape(gridCount, nz), tensor.WithBacking(fixed)),
		interp:    InterpolationPath(z1, z2, gridCount),
		outDir:    filepath.Join(opts.LogDir, opts.RunName, "out"),
		interpDir: filepath.Join(opts.LogDir, opts.RunName, "interpolate"),
		zIn:       zIn,
	}
	G.Read(outNode, &s.out)
	s.vm = G.NewTapeMachine(g)
	return s
}

// InterpolationPath blends two anchor latents into count vectors with
// evenly spaced factors i/(count-1); the endpoints are exactly z1 and
// z2.
func InterpolationPath(z1, z2 []float64, count int) *tensor.Dense {
	nz := len(z1)
	backing := make([]float64, count*nz)
	for i := 0; i < count; i++ {
		blend := float64(i) / float64(count-1)
		for j := 0; j < nz; j++ {
			backing[i*nz+j] = (1-blend)*z1[j] + blend*z2[j]
		}
	}
	return tensor.New(tensor.WithShape(count, nz), tensor.WithBacking(backing))
}

// Fixed exposes the fixed latent batch (read-only by convention).
func (s *Sampler) Fixed() *tensor.Dense { return s.fixed }

// Interpolation exposes the interpolation path (read-only by
// convention).
func (s *Sampler) Interpolation() *tensor.Dense { return s.interp }

// Render writes both artifact grids for the given iteration, creating
// the output directories on demand. Filenames are zero-padded to 7
// digits.
func (s *Sampler) Render(iter int) error {
	name := fmt.Sprintf("%07d.png", iter)
	if err := s.render(s.fixed, filepath.Join(s.outDir, name)); err != nil {
		return err
	}
	return s.render(s.interp, filepath.Join(s.interpDir, name))
}

func (s *Sampler) render(latents *tensor.Dense, path string) error {
	if err := G.Let(s.zIn, latents); err != nil {
		return fmt.Errorf("sampler: bind latents: %w", err)
	}
	if err := s.vm.RunAll(); err != nil {
		return fmt.Errorf("sampler: render: %w", err)
	}
	s.vm.Reset()
	return WriteGrid(path, s.out.(*tensor.Dense), gridCols, gridPadding)
}
