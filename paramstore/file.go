package paramstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/RocketRedNeck/BucketVision/internal/logging"
)

// FileOpts are options for a file store.
type FileOpts struct {
	Logger *zerolog.Logger
}

// File is a store backed by a YAML file. Edits to the file by other programs,
// eg a dashboard or an operator with an editor, are picked up while running.
//
// Nested mappings in the file are flattened, so
//
//	frontCam:
//	  Exposure: -3
//
// is read as key "frontCam/Exposure", matching Sub(store, "frontCam").
type File struct {
	path    string
	log     zerolog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu     sync.RWMutex
	values map[string]string
	err    error // Last load error, if any.
}

// Ensure File implements interface Store.
var _ Store = (*File)(nil)

// OpenFile reads the store at path and starts watching it for changes. A
// missing file is treated as empty, and is created on the first Put.
//
// Callers must call Close to stop watching.
func OpenFile(path string, opts *FileOpts) (store *File, rerr error) {
	var xopts FileOpts
	if opts != nil {
		xopts = *opts
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path for %q: %v", path, err)
	}

	f := &File{
		path:   abs,
		log:    logging.Component(xopts.Logger, "paramstore", filepath.Base(abs)),
		done:   make(chan struct{}),
		values: map[string]string{},
	}
	if err := f.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	// Ensure cleanup in case of failure.
	defer func() {
		if rerr != nil {
			f.Close()
		}
	}()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new file change watcher: %v", err)
	}
	f.watcher = watcher

	go f.watch()

	// Watch the directory, editors and our own Put replace the file.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return nil, fmt.Errorf("registering file change watcher for %s: %v", filepath.Dir(abs), err)
	}
	return f, nil
}

func (f *File) watch() {
	defer close(f.done)
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.load(); err != nil {
				f.log.Debug().Err(err).Msg("reloading parameters")
				continue
			}
			f.log.Debug().Msg("parameters reloaded")

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn().Err(err).Msg("watching parameter file")
		}
	}
}

func (f *File) load() error {
	buf, err := os.ReadFile(f.path)
	if err != nil {
		f.setErr(err)
		return err
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		// Possibly partially written, keep the previous values.
		err = fmt.Errorf("parsing %s: %v", f.path, err)
		f.setErr(err)
		return err
	}
	values := map[string]string{}
	flatten(values, "", doc)

	f.mu.Lock()
	f.values = values
	f.err = nil
	f.mu.Unlock()
	return nil
}

func (f *File) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func flatten(dst map[string]string, prefix string, m map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + Separator + k
		}
		switch x := v.(type) {
		case map[string]interface{}:
			flatten(dst, key, x)
		case nil:
		default:
			dst[key] = fmt.Sprint(x)
		}
	}
}

// Get returns the value for key. If the file could not be parsed on the last
// change and no value is known, the parse error is returned wrapped in
// ErrUnavailable.
func (f *File) Get(key string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[key]
	if ok {
		return v, nil
	}
	if f.err != nil && !errors.Is(f.err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, f.err)
	}
	return "", ErrNotFound
}

// Put sets key and rewrites the file.
func (f *File) Put(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[key] == value {
		return nil
	}
	f.values[key] = value

	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Value: f.values[k]},
		)
	}
	buf, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal parameters: %v", err)
	}

	// Write and rename, so readers never see a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: writing parameters: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: closing parameters: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: replacing %s: %v", ErrUnavailable, f.path, err)
	}
	return nil
}

// Close stops watching the file.
func (f *File) Close() error {
	if f.watcher != nil {
		err := f.watcher.Close()
		<-f.done
		return err
	}
	return nil
}
