// Package port supplies the injected dependencies the rtheap allocator
// family treats as external collaborators: the byte-alignment quantum, the
// backing storage array, a scoped critical section standing in for
// scheduler-preemption suspension, and the optional tracing/OOM hooks.
// None of this package implements allocation policy; internal/heap owns
// that.
package port

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"sync"
)

// ErrAlignmentNotPowerOfTwo is returned by NewConfig when the requested
// byte alignment is not a power of two.
var ErrAlignmentNotPowerOfTwo = errors.New("port: byte alignment must be a power of two")

// ErrHeapTooSmall reports a total heap size too small for one block.
// NewConfig does not return it, since it never sees the backing buffer;
// the heap constructors report this case with heap.ErrHeapTooSmall.
var ErrHeapTooSmall = errors.New("port: total heap size too small for one block")

// DefaultAlignment mirrors the common BYTE_ALIGNMENT of 8 used by the
// reference kernel.
const DefaultAlignment = 8

// Config is the build-time/link-time configuration injected into a heap:
// BYTE_ALIGNMENT and the feature flags of spec section 6. TOTAL_HEAP_SIZE
// is not a field: it is the length of the backing slice handed to a heap
// constructor.
type Config struct {
	Alignment uintptr

	// ClearMemoryOnFree mirrors HEAP_CLEAR_MEMORY_ON_FREE: zero a
	// region's payload when it is released.
	ClearMemoryOnFree bool

	// UseMallocFailedHook mirrors USE_MALLOC_FAILED_HOOK: invoke Hooks.OnOutOfMemory
	// after an allocate call returns nil.
	UseMallocFailedHook bool

	Hooks  Hooks
	Logger Logger
}

// Option configures a Config, following the functional-options idiom used
// throughout this codebase's allocators.
type Option func(*Config)

// WithAlignment overrides the default byte alignment (must be a power of two).
func WithAlignment(alignment uintptr) Option {
	return func(c *Config) { c.Alignment = alignment }
}

// WithClearMemoryOnFree enables zeroing a region's payload on free.
func WithClearMemoryOnFree(enabled bool) Option {
	return func(c *Config) { c.ClearMemoryOnFree = enabled }
}

// WithHooks installs tracing and out-of-memory hooks.
func WithHooks(h Hooks) Option {
	return func(c *Config) {
		c.Hooks = h
		c.UseMallocFailedHook = h.OnOutOfMemory != nil
	}
}

// WithLogger sets Config.Logger. The heap schemes in internal/heap do not
// write to it: a corrupted header on Free panics without logging.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// NewConfig builds a Config from options, applying the same defaults the
// reference kernel ships (8-byte alignment, memory left uncleared on free,
// no hooks, log.Default() for diagnostics).
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{
		Alignment: DefaultAlignment,
		Logger:    log.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.Alignment == 0 || c.Alignment&(c.Alignment-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrAlignmentNotPowerOfTwo, c.Alignment)
	}

	return c, nil
}

// Hooks holds the application-provided callbacks of spec section 6:
// trace_malloc, trace_free, and application_malloc_failed_hook. All are
// optional; nil means "no-op".
type Hooks struct {
	// OnOutOfMemory is invoked after an Allocate call returns nil, outside
	// the critical section, when UseMallocFailedHook is enabled.
	OnOutOfMemory func()

	// OnMalloc traces a successful allocation (ptr, size including header).
	OnMalloc func(ptr uintptr, size uintptr)

	// OnFree traces a release (ptr, size including header).
	OnFree func(ptr uintptr, size uintptr)
}

// Logger is the minimal logging surface rtheap needs; *log.Logger
// satisfies it, matching the standard-library logging style used
// elsewhere in this codebase for low-level subsystems.
type Logger interface {
	Printf(format string, args ...interface{})
}

// CriticalSection is a scoped, nested, reference-counted acquisition that
// suspends preemption for the duration of a structural mutation of heap
// state, per spec section 4.6, standing in for FreeRTOS's
// vTaskSuspendAll/xTaskResumeAll pair. Nested Enter calls from the same
// goroutine are cheap recursion, not a deadlock: the section tracks which
// goroutine currently owns it and only blocks a caller that is not the
// owner. The zero value is not usable; use NewCriticalSection.
type CriticalSection struct {
	mu    sync.Mutex
	free  *sync.Cond
	owner int64
	depth int32
}

// noOwner marks a CriticalSection as currently unheld.
const noOwner int64 = -1

// NewCriticalSection returns a ready-to-use critical section.
func NewCriticalSection() *CriticalSection {
	c := &CriticalSection{owner: noOwner}
	c.free = sync.NewCond(&c.mu)

	return c
}

// Enter suspends preemption for the duration of a structural mutation. A
// goroutine that already holds the section may call Enter again; the
// matching number of Leave calls is required to actually release it.
func (c *CriticalSection) Enter() {
	gid := goroutineID()

	c.mu.Lock()
	defer c.mu.Unlock()

	for c.depth > 0 && c.owner != gid {
		c.free.Wait()
	}

	c.owner = gid
	c.depth++
}

// Leave resumes preemption once depth returns to zero. Must be called
// exactly once per Enter, on every exit path, by the goroutine that
// entered.
func (c *CriticalSection) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.depth <= 0 {
		panic("port: CriticalSection.Leave called without a matching Enter")
	}

	c.depth--

	if c.depth == 0 {
		c.owner = noOwner
		c.free.Signal()
	}
}

// goroutineID extracts the calling goroutine's numeric ID from the
// "goroutine N [state]:" header runtime.Stack prints, the standard
// dependency-free way to obtain it: Go deliberately exposes no public
// goroutine-local-storage API.
func goroutineID() int64 {
	var buf [64]byte

	n := runtime.Stack(buf[:], false)
	line := buf[:n]

	const prefix = "goroutine "
	line = bytes.TrimPrefix(line, []byte(prefix))

	if idx := bytes.IndexByte(line, ' '); idx >= 0 {
		line = line[:idx]
	}

	id, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		panic("port: could not parse goroutine ID from runtime.Stack output: " + err.Error())
	}

	return id
}
