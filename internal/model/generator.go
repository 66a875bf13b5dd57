package model

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// baseGrid is the spatial size the latent is projected onto before
// the upsampling blocks take over.
const baseGrid = 4

// Generator maps latent vectors to images.
type Generator struct {
	LatentDim int
	Channels  int
	ImgSize   int

	proj     *Conv2D
	projNorm *BatchNorm2D
	blocks   []genBlock
}

type genBlock struct {
	conv *Conv2D
	norm *BatchNorm2D // nil on the output block
}

// NewGenerator builds a DCGAN-shaped generator. A 1x1 convolution
// projects the latent onto a 4x4 feature map; each block then
// upsamples x2 and convolves, halving the feature width, until the
// target image size is reached. The output block maps to nc channels
// under tanh.
func NewGenerator(latentDim, features, channels, imgSize int) (*Generator, error) {
	if latentDim <= 0 || features <= 0 {
		return nil, fmt.Errorf("generator: latent dim and features must be > 0 (got %d, %d)", latentDim, features)
	}
	steps, err := scaleSteps(imgSize)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}

	ch0 := features << (steps - 1)
	n := &Generator{LatentDim: latentDim, Channels: channels, ImgSize: imgSize}
	n.proj = NewConv2D("gen.proj", ch0*baseGrid*baseGrid, latentDim, 1, 1, 0)
	n.projNorm = NewBatchNorm2D("gen.proj.bn", ch0)

	in := ch0
	for i := 0; i < steps; i++ {
		last := i == steps-1
		out := in / 2
		if last {
			out = channels
		}
		blk := genBlock{conv: NewConv2D(fmt.Sprintf("gen.block%d", i), out, in, 3, 1, 1)}
		if !last {
			blk.norm = NewBatchNorm2D(fmt.Sprintf("gen.block%d.bn", i), out)
		}
		n.blocks = append(n.blocks, blk)
		in = out
	}
	return n, nil
}

func scaleSteps(imgSize int) (int, error) {
	if imgSize < 16 || imgSize&(imgSize-1) != 0 {
		return 0, fmt.Errorf("image size must be a power of two >= 16 (got %d)", imgSize)
	}
	steps := 0
	for s := baseGrid; s < imgSize; s *= 2 {
		steps++
	}
	return steps, nil
}

// Layers lists every tagged parameter block.
func (n *Generator) Layers() []Layer {
	out := []Layer{n.proj, n.projNorm}
	for _, b := range n.blocks {
		out = append(out, b.conv)
		if b.norm != nil {
			out = append(out, b.norm)
		}
	}
	return out
}

// GenBinding is one expression-graph instantiation of a Generator.
// All bindings of the same Generator share parameter storage.
type GenBinding struct {
	net      *Generator
	proj     *convBinding
	projNorm *normBinding
	blocks   []genBlockBinding
}

type genBlockBinding struct {
	conv *convBinding
	norm *normBinding
}

// Bind creates the generator's parameter nodes in g. train selects
// batch statistics versus running statistics inside the batch norm
// layers; it is fixed per binding.
func (n *Generator) Bind(g *G.ExprGraph, train bool) *GenBinding {
	b := &GenBinding{
		net:      n,
		proj:     bindConv(g, n.proj),
		projNorm: bindNorm(g, n.projNorm, train),
	}
	for _, blk := range n.blocks {
		bb := genBlockBinding{conv: bindConv(g, blk.conv)}
		if blk.norm != nil {
			bb.norm = bindNorm(g, blk.norm, train)
		}
		b.blocks = append(b.blocks, bb)
	}
	return b
}

// Forward builds the generator computation for a [batch, latentDim]
// input node and returns the [batch, nc, img, img] output node.
// Shape mismatches panic; there is nothing to recover.
func (b *GenBinding) Forward(z *G.Node) *G.Node {
	batch := z.Shape()[0]
	ch0 := b.net.proj.Weight.Shape()[0] / (baseGrid * baseGrid)

	x := G.Must(G.Reshape(z, tensor.Shape{batch, b.net.LatentDim, 1, 1}))
	x = b.proj.forward(x)
	x = G.Must(G.Reshape(x, tensor.Shape{batch, ch0, baseGrid, baseGrid}))
	x = b.projNorm.forward(x)
	x = G.Must(G.Rectify(x))

	for _, blk := range b.blocks {
		x = G.Must(G.Upsample2D(x, 2))
		x = blk.conv.forward(x)
		if blk.norm != nil {
			x = blk.norm.forward(x)
			x = G.Must(G.Rectify(x))
		} else {
			x = G.Must(G.Tanh(x))
		}
	}
	return x
}

// Learnables returns the parameter nodes the optimizer may step.
func (b *GenBinding) Learnables() G.Nodes {
	out := G.Nodes{b.proj.weight, b.projNorm.gamma, b.projNorm.beta}
	for _, blk := range b.blocks {
		out = append(out, blk.conv.weight)
		if blk.norm != nil {
			out = append(out, blk.norm.gamma, blk.norm.beta)
		}
	}
	return out
}

// FlushStats folds the last run's batch statistics into the shared
// running statistics.
func (b *GenBinding) FlushStats() {
	b.projNorm.flushStats()
	for _, blk := range b.blocks {
		if blk.norm != nil {
			blk.norm.flushStats()
		}
	}
}
