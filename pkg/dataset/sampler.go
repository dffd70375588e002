package dataset

import (
	"errors"
	"math/rand"
	"time"
)

// ErrEmptyDataset indicates an attempt to sample from an empty dataset
var ErrEmptyDataset = errors.New("dataset is empty")

// Sampler picks one review uniformly at random. The random source is
// injectable so tests can make selection deterministic.
type Sampler struct {
	rnd *rand.Rand
}

// NewSampler creates a sampler, seeding a default source when rnd is nil
func NewSampler(rnd *rand.Rand) *Sampler {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // sampling, not crypto
	}
	return &Sampler{rnd: rnd}
}

// Pick returns a uniformly random element of items
func (s *Sampler) Pick(items []string) (string, error) {
	if len(items) == 0 {
		return "", ErrEmptyDataset
	}
	return items[s.rnd.Intn(len(items))], nil
}
