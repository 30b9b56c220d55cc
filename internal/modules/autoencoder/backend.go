package autoencoder

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Backend performs the matrix products of the forward and backward passes.
// Every product completes before Mul returns; callers never observe partial results.
type Backend interface {
	Name() string
	// Mul stores a*b in dst. dst must already have the product's dimensions
	// and must not alias a or b.
	Mul(dst *mat.Dense, a, b mat.Matrix)
}

const (
	// BackendSerial computes products on the calling goroutine
	BackendSerial = "serial"
	// BackendParallel shards products by row across goroutines
	BackendParallel = "parallel"
)

// NewBackend returns the backend registered under name.
func NewBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendSerial:
		return serialBackend{}, nil
	case BackendParallel:
		return newParallelBackend(runtime.GOMAXPROCS(0), 8), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

type serialBackend struct{}

func (serialBackend) Name() string { return BackendSerial }

func (serialBackend) Mul(dst *mat.Dense, a, b mat.Matrix) {
	dst.Mul(a, b)
}

// parallelBackend splits the rows of a into contiguous shards. Each shard writes
// a disjoint row range of dst, so no synchronisation beyond the final Wait is needed.
// A shape panic inside a shard is re-raised on the calling goroutine, the same
// way dst.Mul panics for the serial backend.
type parallelBackend struct {
	workers int
	minRows int // shards smaller than this are not worth a goroutine
}

func newParallelBackend(workers, minRows int) *parallelBackend {
	if workers < 1 {
		workers = 1
	}
	if minRows < 1 {
		minRows = 1
	}
	return &parallelBackend{workers: workers, minRows: minRows}
}

func (p *parallelBackend) Name() string { return BackendParallel }

func (p *parallelBackend) Mul(dst *mat.Dense, a, b mat.Matrix) {
	ad, ok := a.(*mat.Dense)
	rows, inner := a.Dims()
	_, cols := b.Dims()
	if !ok || p.workers == 1 || rows < 2*p.minRows {
		dst.Mul(a, b)
		return
	}

	shards := p.workers
	if maxShards := rows / p.minRows; shards > maxShards {
		shards = maxShards
	}
	size := (rows + shards - 1) / shards

	var g errgroup.Group
	for from := 0; from < rows; from += size {
		to := from + size
		if to > rows {
			to = rows
		}
		r0, r1 := from, to
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = shardPanic(r0, r1, r)
				}
			}()
			out := dst.Slice(r0, r1, 0, cols).(*mat.Dense)
			out.Mul(ad.Slice(r0, r1, 0, inner), b)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		panic(err)
	}
}

func shardPanic(from, to int, r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("product rows %d-%d: %w", from, to, err)
	}
	return fmt.Errorf("product rows %d-%d: %v", from, to, r)
}
