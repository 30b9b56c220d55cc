package autoencoder

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/pricewatch/internal/domain"
)

// Matrix is a serialisable copy of one parameter.
type Matrix struct {
	Name string    `json:"name" msgpack:"name"`
	Rows int       `json:"rows" msgpack:"rows"`
	Cols int       `json:"cols" msgpack:"cols"`
	Data []float64 `json:"data" msgpack:"data"`
}

// Snapshot is a deep copy of the model weights. Restoring a snapshot into a
// model built from the same Config reproduces its outputs exactly.
type Snapshot struct {
	Config Config   `json:"config" msgpack:"config"`
	Params []Matrix `json:"params" msgpack:"params"`
}

// Snapshot copies the current weights
func (m *Model) Snapshot() Snapshot {
	params := m.Params()
	s := Snapshot{
		Config: m.cfg,
		Params: make([]Matrix, len(params)),
	}
	for i, p := range params {
		r, c := p.Value.Dims()
		data := make([]float64, r*c)
		for row := 0; row < r; row++ {
			copy(data[row*c:(row+1)*c], p.Value.RawRowView(row))
		}
		s.Params[i] = Matrix{Name: p.Name, Rows: r, Cols: c, Data: data}
	}
	return s
}

// Restore overwrites the model weights with s. The optimizer state is reset.
func (m *Model) Restore(s Snapshot) error {
	params := m.Params()
	if len(s.Params) != len(params) {
		return &domain.ShapeError{
			Want: fmt.Sprintf("%d parameters", len(params)),
			Got:  fmt.Sprintf("%d parameters", len(s.Params)),
		}
	}

	for i, p := range params {
		sm := s.Params[i]
		r, c := p.Value.Dims()
		if sm.Name != p.Name || sm.Rows != r || sm.Cols != c || len(sm.Data) != r*c {
			return &domain.ShapeError{
				Want: fmt.Sprintf("%s (%d x %d)", p.Name, r, c),
				Got:  fmt.Sprintf("%s (%d x %d, %d values)", sm.Name, sm.Rows, sm.Cols, len(sm.Data)),
			}
		}
	}

	for i, p := range params {
		sm := s.Params[i]
		p.Value.Copy(mat.NewDense(sm.Rows, sm.Cols, sm.Data))
	}
	m.optimizer.reset()
	return nil
}

// FromSnapshot builds a model from a stored snapshot.
func FromSnapshot(s Snapshot, backend Backend) (*Model, error) {
	m, err := New(s.Config, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to build model from snapshot: %w", err)
	}
	if err := m.Restore(s); err != nil {
		return nil, err
	}
	return m, nil
}
