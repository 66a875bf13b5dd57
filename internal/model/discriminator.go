package model

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const leakySlope = 0.2

// Discriminator maps images to a scalar realness score in (0, 1).
type Discriminator struct {
	Channels int
	ImgSize  int

	blocks []discBlock
	head   *Conv2D
}

type discBlock struct {
	conv *Conv2D
	norm *BatchNorm2D // nil on the input block
}

// NewDiscriminator builds the DCGAN-shaped discriminator: stride-2
// convolutions down to a 4x4 map, doubling the feature width each
// block, then a valid 4x4 convolution to a single score.
func NewDiscriminator(channels, features, imgSize int) (*Discriminator, error) {
	if features <= 0 {
		return nil, fmt.Errorf("discriminator: features must be > 0 (got %d)", features)
	}
	steps, err := scaleSteps(imgSize)
	if err != nil {
		return nil, fmt.Errorf("discriminator: %w", err)
	}

	n := &Discriminator{Channels: channels, ImgSize: imgSize}
	in := channels
	out := features
	for i := 0; i < steps; i++ {
		blk := discBlock{conv: NewConv2D(fmt.Sprintf("disc.block%d", i), out, in, 4, 2, 1)}
		if i > 0 {
			blk.norm = NewBatchNorm2D(fmt.Sprintf("disc.block%d.bn", i), out)
		}
		n.blocks = append(n.blocks, blk)
		in = out
		out *= 2
	}
	n.head = NewConv2D("disc.head", 1, in, 4, 1, 0)
	return n, nil
}

// Layers lists every tagged parameter block.
func (n *Discriminator) Layers() []Layer {
	out := make([]Layer, 0, 2*len(n.blocks)+1)
	for _, b := range n.blocks {
		out = append(out, b.conv)
		if b.norm != nil {
			out = append(out, b.norm)
		}
	}
	return append(out, n.head)
}

// DiscBinding is one expression-graph instantiation of a
// Discriminator. Forward may be applied to several inputs within the
// same graph; every application reuses the same parameter nodes, so
// gradients from all applications accumulate onto one buffer.
type DiscBinding struct {
	net    *Discriminator
	blocks []discBlockBinding
	head   *convBinding
}

type discBlockBinding struct {
	conv *convBinding
	norm *normBinding
}

// Bind creates the discriminator's parameter nodes in g.
func (n *Discriminator) Bind(g *G.ExprGraph, train bool) *DiscBinding {
	b := &DiscBinding{net: n, head: bindConv(g, n.head)}
	for _, blk := range n.blocks {
		bb := discBlockBinding{conv: bindConv(g, blk.conv)}
		if blk.norm != nil {
			bb.norm = bindNorm(g, blk.norm, train)
		}
		b.blocks = append(b.blocks, bb)
	}
	return b
}

// Forward builds the score computation for a [batch, nc, img, img]
// input node and returns the [batch] sigmoid output node.
func (b *DiscBinding) Forward(x *G.Node) *G.Node {
	batch := x.Shape()[0]
	for _, blk := range b.blocks {
		x = blk.conv.forward(x)
		if blk.norm != nil {
			x = blk.norm.forward(x)
		}
		x = G.Must(G.LeakyRelu(x, leakySlope))
	}
	x = b.head.forward(x)
	x = G.Must(G.Reshape(x, tensor.Shape{batch}))
	return G.Must(G.Sigmoid(x))
}

// Learnables returns the parameter nodes the optimizer may step.
func (b *DiscBinding) Learnables() G.Nodes {
	out := G.Nodes{}
	for _, blk := range b.blocks {
		out = append(out, blk.conv.weight)
		if blk.norm != nil {
			out = append(out, blk.norm.gamma, blk.norm.beta)
		}
	}
	return append(out, b.head.weight)
}

// FlushStats folds the last run's batch statistics into the shared
// running statistics.
func (b *DiscBinding) FlushStats() {
	for _, blk := range b.blocks {
		if blk.norm != nil {
			blk.norm.flushStats()
		}
	}
}
