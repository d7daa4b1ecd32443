package model

import (
	"fmt"
)

type labelState struct {
	index  int
	sum    float64
	values []float64
}

// Smoother is a moving average filter over classification scores, so a
// single noisy frame does not flip the reported class.
type Smoother struct {
	state map[string]*labelState
}

// NewSmoother returns a filter averaging the last size scores of each label.
// The history starts out as zeroes.
func NewSmoother(size int, labels []string) (*Smoother, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be > 0")
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("must specify at least one label")
	}
	s := &Smoother{state: map[string]*labelState{}}
	for _, label := range labels {
		s.state[label] = &labelState{values: make([]float64, size)}
	}
	return s, nil
}

// Update adds one classification and returns the smoothed scores. Unknown
// labels and an empty classification are errors.
func (s *Smoother) Update(classification map[string]float64) (map[string]float64, error) {
	if s.state == nil {
		return nil, fmt.Errorf("invalid smoother, use NewSmoother")
	}
	if len(classification) == 0 {
		return nil, fmt.Errorf("classification must not be empty")
	}

	r := map[string]float64{}
	for label, value := range classification {
		ls, ok := s.state[label]
		if !ok {
			return nil, fmt.Errorf("unknown label %q", label)
		}
		ls.sum -= ls.values[ls.index]
		ls.sum += value
		ls.values[ls.index] = value
		r[label] = ls.sum / float64(len(ls.values))
		ls.index++
		if ls.index >= len(ls.values) {
			ls.index = 0
		}
	}
	return r, nil
}
