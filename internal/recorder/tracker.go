// Package recorder is the runtime half of instrumentation: the counters an
// instrumented module increments and the protocol that flushes them to the
// hits file when the module unloads.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"
)

// ErrLengthMismatch means the hits file on disk was written for a different
// instrumentation of the module.
var ErrLengthMismatch = errors.New("hits file length does not match counter count")

// State is the lifecycle position of a Tracker.
type State int32

const (
	StateLoaded State = iota
	StateRecording
	StateFlushed
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateRecording:
		return "recording"
	case StateFlushed:
		return "flushed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options configures a Tracker.
type Options struct {
	HitsFilePath string
	Count        int
	SingleHit    bool
	Fs           afero.Fs   // defaults to the OS file system
	Mutex        NamedMutex // defaults to a FileMutex in the OS temp dir
}

// Tracker owns the counters of one instrumented module.
type Tracker struct {
	hitsFilePath string
	singleHit    bool
	fs           afero.Fs
	mutex        NamedMutex

	// mu guards the hits slice header. Increments hold it shared so a flush
	// never retires an array with an increment in flight.
	mu    sync.RWMutex
	hits  []int32
	state atomic.Int32
}

// New creates a tracker with Count zeroed counters.
func New(opts Options) *Tracker {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Mutex == nil {
		opts.Mutex = NewFileMutex(os.TempDir())
	}
	return &Tracker{
		hitsFilePath: opts.HitsFilePath,
		singleHit:    opts.SingleHit,
		fs:           opts.Fs,
		mutex:        opts.Mutex,
		hits:         make([]int32, opts.Count),
	}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State { return State(t.state.Load()) }

// Count returns the number of counters.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.hits)
}

// RecordHit increments counter index.
func (t *Tracker) RecordHit(index int) {
	t.mu.RLock()
	atomic.AddInt32(&t.hits[index], 1)
	t.mu.RUnlock()
	t.recording()
}

// RecordSingleHit marks counter index as executed.
func (t *Tracker) RecordSingleHit(index int) {
	t.mu.RLock()
	atomic.CompareAndSwapInt32(&t.hits[index], 0, 1)
	t.mu.RUnlock()
	t.recording()
}

func (t *Tracker) recording() {
	if State(t.state.Load()) != StateRecording {
		t.state.Store(int32(StateRecording))
	}
}

// Flush moves the counters into the hits file. It may run any number of
// times; each call contributes only the hits recorded since the previous one.
func (t *Tracker) Flush() error {
	unlock, err := t.mutex.Lock(MutexName(t.hitsFilePath))
	if err != nil {
		return err
	}
	defer unlock()

	t.mu.Lock()
	hits := t.hits
	t.hits = make([]int32, len(hits))
	t.state.Store(int32(StateFlushed))
	t.mu.Unlock()

	f, err := t.fs.OpenFile(t.hitsFilePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		defer f.Close()
		return WriteHits(f, hits)
	}
	if !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("failed to create hits file: %w", err)
	}
	return t.mergeInto(hits)
}

// mergeInto folds hits into the existing hits file.
func (t *Tracker) mergeInto(hits []int32) error {
	f, err := t.fs.OpenFile(t.hitsFilePath, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open hits file: %w", err)
	}
	defer f.Close()

	existing, err := ReadHits(f)
	if err != nil {
		return err
	}
	if len(existing) != len(hits) {
		return fmt.Errorf("%w: file has %d, tracker has %d", ErrLengthMismatch, len(existing), len(hits))
	}

	for i := range hits {
		if t.singleHit {
			if hits[i] != 0 || existing[i] != 0 {
				existing[i] = 1
			}
		} else {
			existing[i] += hits[i]
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind hits file: %w", err)
	}
	return WriteHits(f, existing)
}

// MutexName derives the named-mutex key for a hits file.
func MutexName(hitsFilePath string) string {
	return "bytecover_" + filepath.Base(hitsFilePath)
}
