// Package paramstore implements key/value stores mirroring camera settings,
// so a remote dashboard can watch and override them.
//
// Stores are optional and best-effort everywhere in the pipeline: a nil Store
// is valid, and read failures are treated as "no override".
package paramstore

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned by Get for keys without a value.
	ErrNotFound = errors.New("parameter not found")

	// ErrUnavailable is returned when the store cannot be reached.
	ErrUnavailable = errors.New("parameter store unavailable")
)

// Store is a key/value store of parameters. Implementations are safe for
// concurrent use.
type Store interface {
	Get(key string) (string, error)
	Put(key, value string) error
}

// Separator joins the prefix of a sub store and its keys.
const Separator = "/"

// Lookup reads key from s. It returns false if s is nil, the key has no
// value, or the store failed. Failures other than a missing key are logged at
// debug level.
func Lookup(s Store, key string, log zerolog.Logger) (string, bool) {
	if s == nil {
		return "", false
	}
	v, err := s.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Debug().Err(err).Str("key", key).Msg("parameter store read failed, no override")
		}
		return "", false
	}
	return v, true
}

// LookupInt is Lookup for integer parameters. Values that do not parse as an
// integer are logged and ignored.
func LookupInt(s Store, key string, log zerolog.Logger) (int, bool) {
	v, ok := Lookup(s, key, log)
	if !ok {
		return 0, false
	}
	v = strings.TrimSpace(v)
	i, err := strconv.Atoi(v)
	if err != nil {
		// Dashboards commonly publish numbers as doubles.
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			log.Debug().Err(err).Str("key", key).Str("value", v).Msg("parameter is not an integer, no override")
			return 0, false
		}
		i = int(f)
	}
	return i, true
}

// Put writes value to s if s is not nil.
func Put(s Store, key, value string) error {
	if s == nil {
		return nil
	}
	return s.Put(key, value)
}

// PutInt writes an integer value to s if s is not nil.
func PutInt(s Store, key string, value int) error {
	return Put(s, key, strconv.Itoa(value))
}

type sub struct {
	parent Store
	prefix string
}

// Sub returns a view of s where every key is prefixed, like a sub table. Sub
// of a nil store is nil.
func Sub(s Store, prefix string) Store {
	if s == nil {
		return nil
	}
	if prefix == "" {
		return s
	}
	return sub{s, prefix}
}

func (s sub) Get(key string) (string, error) {
	return s.parent.Get(s.prefix + Separator + key)
}

func (s sub) Put(key, value string) error {
	return s.parent.Put(s.prefix+Separator+key, value)
}

// Memory is an in-process store. The zero value is ready for use.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// Ensure the stores implement interface Store.
var (
	_ Store = (*Memory)(nil)
	_ Store = sub{}
)

// NewMemory returns a store holding the given initial values.
func NewMemory(values map[string]string) *Memory {
	m := &Memory{values: map[string]string{}}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

// Get returns the value for key, or ErrNotFound.
func (m *Memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Put sets the value for key.
func (m *Memory) Put(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

// Keys returns the keys with a value, sorted.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
