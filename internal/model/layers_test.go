package model

import (
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestGeneratorShapes(t *testing.T) {
	net, err := NewGenerator(8, 4, 3, 16)
	if err != nil {
		t.Fatalf("NewGenerator error: %v", err)
	}

	g := G.NewGraph()
	z := G.NewMatrix(g, tensor.Float64, G.WithShape(2, 8), G.WithName("z"))
	out := net.Bind(g, true).Forward(z)

	want := tensor.Shape{2, 3, 16, 16}
	if !out.Shape().Eq(want) {
		t.Fatalf("generator output shape %v, want %v", out.Shape(), want)
	}
}

func TestDiscriminatorShapes(t *testing.T) {
	net, err := NewDiscriminator(3, 4, 16)
	if err != nil {
		t.Fatalf("NewDiscriminator error: %v", err)
	}

	g := G.NewGraph()
	x := G.NewTensor(g, tensor.Float64, 4, G.WithShape(2, 3, 16, 16), G.WithName("x"))
	out := net.Bind(g, true).Forward(x)

	if !out.Shape().Eq(tensor.Shape{2}) {
		t.Fatalf("discriminator output shape %v, want [2]", out.Shape())
	}
}

func TestGeneratorRejectsBadImageSize(t *testing.T) {
	if _, err := NewGenerator(8, 4, 3, 48); err == nil {
		t.Fatal("expected error for non power-of-two image size")
	}
	if _, err := NewGenerator(8, 4, 3, 8); err == nil {
		t.Fatal("expected error for image size below 16")
	}
}

func TestLayerEnumeration(t *testing.T) {
	gen, err := NewGenerator(8, 4, 3, 64)
	if err != nil {
		t.Fatalf("NewGenerator error: %v", err)
	}
	// 4 blocks at 64px: projection conv+bn, three bn blocks, one
	// tanh output conv.
	var convs, norms int
	for _, l := range gen.Layers() {
		switch l.Kind() {
		case KindConvolutional:
			convs++
		case KindNormalization:
			norms++
		}
	}
	if convs != 5 || norms != 4 {
		t.Fatalf("generator layers: %d convs, %d norms; want 5 and 4", convs, norms)
	}

	disc, err := NewDiscriminator(3, 4, 64)
	if err != nil {
		t.Fatalf("NewDiscriminator error: %v", err)
	}
	convs, norms = 0, 0
	for _, l := range disc.Layers() {
		switch l.Kind() {
		case KindConvolutional:
			convs++
		case KindNormalization:
			norms++
		}
	}
	if convs != 5 || norms != 3 {
		t.Fatalf("discriminator layers: %d convs, %d norms; want 5 and 3", convs, norms)
	}
}

func TestBindingsShareParameterStorage(t *testing.T) {
	net, err := NewDiscriminator(3, 4, 16)
	if err != nil {
		t.Fatalf("NewDiscriminator error: %v", err)
	}
	a := net.Bind(G.NewGraph(), true)
	b := net.Bind(G.NewGraph(), true)

	av := a.Learnables()[0].Value().Data().([]float64)
	bv := b.Learnables()[0].Value().Data().([]float64)
	if len(av) == 0 || &av[0] != &bv[0] {
		t.Fatal("bindings do not share parameter backing")
	}
}
