package model

import (
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LayerKind tags a parameter block with its initialization category.
// Dispatching on the tag replaces class-name inspection.
type LayerKind int

const (
	KindOther LayerKind = iota
	KindConvolutional
	KindNormalization
)

// Layer is one tagged parameter block of a network.
type Layer interface {
	Kind() LayerKind
	LayerName() string
}

// Conv2D holds the parameters of one bias-free convolution.
type Conv2D struct {
	Name   string
	Weight *tensor.Dense // [out, in, k, k]
	Kernel int
	Stride int
	Pad    int
}

// NewConv2D allocates a zeroed convolution parameter block.
func NewConv2D(name string, out, in, kernel, stride, pad int) *Conv2D {
	w := tensor.New(tensor.WithShape(out, in, kernel, kernel), tensor.Of(tensor.Float64))
	return &Conv2D{Name: name, Weight: w, Kernel: kernel, Stride: stride, Pad: pad}
}

func (c *Conv2D) Kind() LayerKind   { return KindConvolutional }
func (c *Conv2D) LayerName() string { return c.Name }

// BatchNorm2D holds the affine parameters and running statistics of a
// 2D batch normalization. All tensors are [1, C, 1, 1] so they drop
// straight into broadcast ops.
type BatchNorm2D struct {
	Name        string
	Weight      *tensor.Dense // gamma
	Bias        *tensor.Dense // beta
	RunningMean *tensor.Dense
	RunningVar  *tensor.Dense
	Momentum    float64
	Epsilon     float64

	channels int
}

// NewBatchNorm2D allocates a batch norm block with identity affine
// parameters and unit running variance.
func NewBatchNorm2D(name string, channels int) *BatchNorm2D {
	shape := tensor.Shape{1, channels, 1, 1}
	ones := func() *tensor.Dense {
		d := tensor.New(tensor.WithShape(shape...), tensor.Of(tensor.Float64))
		data := d.Data().([]float64)
		for i := range data {
			data[i] = 1
		}
		return d
	}
	zeros := func() *tensor.Dense {
		return tensor.New(tensor.WithShape(shape...), tensor.Of(tensor.Float64))
	}
	return &BatchNorm2D{
		Name:        name,
		Weight:      ones(),
		Bias:        zeros(),
		RunningMean: zeros(),
		RunningVar:  ones(),
		Momentum:    0.1,
		Epsilon:     1e-5,
		channels:    channels,
	}
}

func (n *BatchNorm2D) Kind() LayerKind   { return KindNormalization }
func (n *BatchNorm2D) LayerName() string { return n.Name }

// convBinding wires a Conv2D into one expression graph. The weight
// node wraps the shared Dense, so every binding of the same layer
// sees optimizer updates immediately.
type convBinding struct {
	layer  *Conv2D
	weight *G.Node
}

func bindConv(g *G.ExprGraph, c *Conv2D) *convBinding {
	w := G.NewTensor(g, tensor.Float64, 4, G.WithName(c.Name+".weight"), G.WithValue(c.Weight))
	return &convBinding{layer: c, weight: w}
}

func (b *convBinding) forward(x *G.Node) *G.Node {
	k := b.layer.Kernel
	return G.Must(G.Conv2d(x, b.weight,
		tensor.Shape{k, k},
		[]int{b.layer.Pad, b.layer.Pad},
		[]int{b.layer.Stride, b.layer.Stride},
		[]int{1, 1}))
}

// batchStats receives one forward pass's batch mean and variance so
// the host can fold them into the running statistics after the run.
type batchStats struct {
	mean     G.Value
	variance G.Value
}

// normBinding wires a BatchNorm2D into one expression graph. Train
// bindings normalize with batch statistics (gradients flow through
// them); eval bindings read the shared running statistics.
type normBinding struct {
	layer *BatchNorm2D
	gamma *G.Node
	beta  *G.Node
	train bool

	runMean *G.Node
	runVar  *G.Node
	stats   []*batchStats
}

func bindNorm(g *G.ExprGraph, n *BatchNorm2D, train bool) *normBinding {
	b := &normBinding{
		layer: n,
		gamma: G.NewTensor(g, tensor.Float64, 4, G.WithName(n.Name+".weight"), G.WithValue(n.Weight)),
		beta:  G.NewTensor(g, tensor.Float64, 4, G.WithName(n.Name+".bias"), G.WithValue(n.Bias)),
		train: train,
	}
	if !train {
		b.runMean = G.NewTensor(g, tensor.Float64, 4, G.WithName(n.Name+".running_mean"), G.WithValue(n.RunningMean))
		b.runVar = G.NewTensor(g, tensor.Float64, 4, G.WithName(n.Name+".running_var"), G.WithValue(n.RunningVar))
	}
	return b
}

var bnBroadcast = []byte{0, 2, 3}

func (b *normBinding) forward(x *G.Node) *G.Node {
	eps := G.NewConstant(b.layer.Epsilon)
	var centered, denom *G.Node
	if b.train {
		c := b.layer.channels
		mu := G.Must(G.Mean(x, 0, 2, 3))
		mu4 := G.Must(G.Reshape(mu, tensor.Shape{1, c, 1, 1}))
		centered = G.Must(G.BroadcastSub(x, mu4, nil, bnBroadcast))
		va := G.Must(G.Mean(G.Must(G.Square(centered)), 0, 2, 3))
		va4 := G.Must(G.Reshape(va, tensor.Shape{1, c, 1, 1}))

		st := &batchStats{}
		G.Read(mu4, &st.mean)
		G.Read(va4, &st.variance)
		b.stats = append(b.stats, st)

		denom = G.Must(G.Sqrt(G.Must(G.Add(va4, eps))))
	} else {
		centered = G.Must(G.BroadcastSub(x, b.runMean, nil, bnBroadcast))
		denom = G.Must(G.Sqrt(G.Must(G.Add(b.runVar, eps))))
	}
	norm := G.Must(G.BroadcastHadamardDiv(centered, denom, nil, bnBroadcast))
	scaled := G.Must(G.BroadcastHadamardProd(norm, b.gamma, nil, bnBroadcast))
	return G.Must(G.BroadcastAdd(scaled, b.beta, nil, bnBroadcast))
}

// flushStats folds the most recent run's batch statistics into the
// shared running statistics. A no-op before the first run.
func (b *normBinding) flushStats() {
	m := b.layer.Momentum
	rm := b.layer.RunningMean.Data().([]float64)
	rv := b.layer.RunningVar.Data().([]float64)
	for _, st := range b.stats {
		if st.mean == nil || st.variance == nil {
			continue
		}
		mean := st.mean.Data().([]float64)
		vari := st.variance.Data().([]float64)
		for i := range rm {
			rm[i] = (1-m)*rm[i] + m*mean[i]
			rv[i] = (1-m)*rv[i] + m*vari[i]
		}
	}
}
