// Package stage runs analysis stages on the frames of a source. A Runner
// takes the latest frame, transforms it with the active stage of its Set,
// and keeps the latest Result for the display.
package stage

import (
	"errors"
	"fmt"
	"image"
	"io"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	bucketvision "github.com/RocketRedNeck/BucketVision"
)

var (
	// ErrUnknownStage is returned when selecting a stage that is not in the
	// set.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrStageBound is returned when a set, or a stage instance in it, is
	// given to a second runner. Stages keep per-frame state and cannot be
	// shared between runners.
	ErrStageBound = errors.New("stage already bound to a runner")
)

// Output is what a stage makes of a frame.
type Output struct {
	// Annotated image. Nil means the input image is passed on as is. A stage
	// must not modify the input image, it is shared with other runners.
	Image image.Image

	// Derived data, eg target coordinates.
	Data interface{}
}

// Stage transforms frames. Transform is called from a single goroutine, one
// frame at a time.
type Stage interface {
	Transform(f *bucketvision.Frame) (Output, error)
}

// Func adapts a function to the Stage interface.
type Func func(f *bucketvision.Frame) (Output, error)

// Transform calls fn.
func (fn Func) Transform(f *bucketvision.Frame) (Output, error) {
	return fn(f)
}

// Passthrough returns frames unmodified.
type Passthrough struct{}

// Transform implements Stage.
func (Passthrough) Transform(f *bucketvision.Frame) (Output, error) {
	return Output{Image: f.Image}, nil
}

var (
	_ Stage = Passthrough{}
	_ Stage = Func(nil)
)

// Set is the stages available to one runner, by name.
type Set struct {
	stages  map[string]Stage
	claimed atomic.Bool
}

// NewSet returns a set of stages. The map is copied.
func NewSet(stages map[string]Stage) *Set {
	m := make(map[string]Stage, len(stages))
	for name, st := range stages {
		m[name] = st
	}
	return &Set{stages: m}
}

// Factory makes a new instance of a stage.
type Factory func() (Stage, error)

// Build makes a set with a new instance of each named stage. Stages created
// before a failure are closed.
func Build(factories map[string]Factory, names []string) (set *Set, rerr error) {
	stages := map[string]Stage{}
	defer func() {
		if rerr != nil {
			closeStages(stages)
		}
	}()
	for _, name := range names {
		fn, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
		}
		st, err := fn()
		if err != nil {
			return nil, fmt.Errorf("making stage %s: %v", name, err)
		}
		stages[name] = st
	}
	return NewSet(stages), nil
}

// Names returns the names of the stages, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.stages))
	for name := range s.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the stage with name.
func (s *Set) Get(name string) (Stage, bool) {
	st, ok := s.stages[name]
	return st, ok
}

// bound maps the pointer stages of claimed sets to their set. Value stages
// such as Passthrough and Func carry no state of their own and are not
// tracked.
var bound = struct {
	sync.Mutex
	by map[Stage]*Set
}{by: map[Stage]*Set{}}

func isInstance(st Stage) bool {
	return st != nil && reflect.TypeOf(st).Kind() == reflect.Pointer
}

// claim binds the set and each of its stage instances to one runner.
func (s *Set) claim() error {
	if !s.claimed.CompareAndSwap(false, true) {
		return ErrStageBound
	}

	bound.Lock()
	defer bound.Unlock()
	for name, st := range s.stages {
		if !isInstance(st) {
			continue
		}
		if owner, ok := bound.by[st]; ok && owner != s {
			for _, other := range s.stages {
				if isInstance(other) && bound.by[other] == s {
					delete(bound.by, other)
				}
			}
			s.claimed.Store(false)
			return fmt.Errorf("%w: %s", ErrStageBound, name)
		}
		bound.by[st] = s
	}
	return nil
}

// Close closes the stages that implement io.Closer and releases their
// binding. Closed stages must not be given to another runner.
func (s *Set) Close() error {
	bound.Lock()
	for _, st := range s.stages {
		if isInstance(st) && bound.by[st] == s {
			delete(bound.by, st)
		}
	}
	bound.Unlock()
	return closeStages(s.stages)
}

func closeStages(stages map[string]Stage) error {
	var first error
	for _, st := range stages {
		if c, ok := st.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
