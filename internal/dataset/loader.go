package dataset

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"os"
	"sync"

	xdraw "golang.org/x/image/draw"
	"gorgonia.org/tensor"
)

// Batch is one shuffled minibatch of images laid out NCHW, pixel
// values normalized to [-1, 1].
type Batch struct {
	Images *tensor.Dense
	Labels []int
}

// LoaderOptions configures the batch loader.
type LoaderOptions struct {
	Entries    []Entry
	ImageSize  int
	Channels   int
	BatchSize  int
	NumWorkers int
	Seed       int64
}

// Loader streams shuffled, decoded batches, one epoch at a time.
type Loader struct {
	opts LoaderOptions
	rng  *rand.Rand
}

// NewLoader validates opts and builds a Loader with its own seeded
// shuffle source.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if len(opts.Entries) == 0 {
		return nil, errors.New("loader: no entries")
	}
	if opts.BatchSize <= 0 {
		return nil, errors.New("loader: batch size must be > 0")
	}
	if len(opts.Entries) < opts.BatchSize {
		return nil, fmt.Errorf("loader: %d entries cannot fill a batch of %d", len(opts.Entries), opts.BatchSize)
	}
	if opts.ImageSize <= 0 {
		return nil, errors.New("loader: image size must be > 0")
	}
	if opts.Channels != 1 && opts.Channels != 3 {
		return nil, fmt.Errorf("loader: channels must be 1 or 3 (got %d)", opts.Channels)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	return &Loader{opts: opts, rng: rand.New(rand.NewSource(opts.Seed))}, nil
}

// BatchesPerEpoch reports how many full batches one epoch yields.
// The trailing partial batch is dropped.
func (l *Loader) BatchesPerEpoch() int {
	return len(l.opts.Entries) / l.opts.BatchSize
}

type decodeJob struct {
	slot  int
	entry Entry
}

type decodeResult struct {
	slot   int
	pixels []float64
	label  int
	err    error
}

// Epoch launches one shuffled pass over the dataset. Batches arrive
// in permutation order; the first decode failure aborts the epoch.
func (l *Loader) Epoch(parent context.Context) (<-chan Batch, <-chan error) {
	perm := l.rng.Perm(len(l.opts.Entries))
	total := l.BatchesPerEpoch() * l.opts.BatchSize

	ctx, cancel := context.WithCancel(parent)

	jobs := make(chan decodeJob, l.opts.NumWorkers)
	results := make(chan decodeResult, l.opts.NumWorkers*2)
	out := make(chan Batch, 1)
	errCh := make(chan error, 1)

	go func() {
		defer close(jobs)
		for slot := 0; slot < total; slot++ {
			job := decodeJob{slot: slot, entry: l.opts.Entries[perm[slot]]}
			select {
			case <-ctx.Done():
				return
			case jobs <- job:
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < l.opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-jobs:
					if !ok {
						return
					}
					pixels, err := decodeImage(job.entry.Path, l.opts.ImageSize, l.opts.Channels)
					res := decodeResult{slot: job.slot, pixels: pixels, label: job.entry.Label, err: err}
					select {
					case <-ctx.Done():
						return
					case results <- res:
					}
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errCh)
		l.assemble(ctx, results, out, errCh)
	}()

	return out, errCh
}

// assemble restores permutation order from out-of-order worker
// results and emits full batches.
func (l *Loader) assemble(ctx context.Context, results <-chan decodeResult, out chan<- Batch, errCh chan<- error) {
	size := l.opts.ImageSize
	chans := l.opts.Channels
	pixelsPer := chans * size * size

	pending := make(map[int]decodeResult)
	next := 0
	backing := make([]float64, 0, l.opts.BatchSize*pixelsPer)
	labels := make([]int, 0, l.opts.BatchSize)

	for {
		var res decodeResult
		var ok bool
		select {
		case <-ctx.Done():
			return
		case res, ok = <-results:
			if !ok {
				return
			}
		}
		if res.err != nil {
			errCh <- fmt.Errorf("decode %w", res.err)
			return
		}
		pending[res.slot] = res

		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			backing = append(backing, r.pixels...)
			labels = append(labels, r.label)
			if len(labels) < l.opts.BatchSize {
				continue
			}
			images := tensor.New(
				tensor.WithShape(l.opts.BatchSize, chans, size, size),
				tensor.WithBacking(append([]float64(nil), backing...)),
			)
			batch := Batch{Images: images, Labels: append([]int(nil), labels...)}
			backing = backing[:0]
			labels = labels[:0]
			select {
			case <-ctx.Done():
				return
			case out <- batch:
			}
		}
	}
}

// decodeImage reads, resizes and normalizes one image into CHW order.
func decodeImage(path string, size, channels int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	pixels := make([]float64, channels*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			px := dst.RGBAAt(x, y)
			if channels == 1 {
				v := (float64(px.R) + float64(px.G) + float64(px.B)) / (3 * 255.0)
				pixels[y*size+x] = (v - 0.5) / 0.5
				continue
			}
			pixels[0*plane+y*size+x] = (float64(px.R)/255.0 - 0.5) / 0.5
			pixels[1*plane+y*size+x] = (float64(px.G)/255.0 - 0.5) / 0.5
			pixels[2*plane+y*size+x] = (float64(px.B)/255.0 - 0.5) / 0.5
		}
	}
	return pixels, nil
}
