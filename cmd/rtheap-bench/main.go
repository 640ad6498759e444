// Command rtheap-bench drives one of the three allocator schemes over a
// synthetic static backing array and reports its heap statistics, the
// way a kernel image prints its heap subsystem status at boot.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"unsafe"

	"github.com/orizon-lang/rtheap/internal/heap"
	"github.com/orizon-lang/rtheap/internal/port"
)

func main() {
	scheme := flag.String("scheme", "coalescing", "allocator scheme: bump, size-ordered, coalescing")
	heapSize := flag.Int("heap-size", 1<<20, "size in bytes of the static backing array")
	alignment := flag.Uint64("alignment", 8, "required allocation alignment (power of two)")
	iterations := flag.Int("iterations", 10000, "number of alloc/free cycles to run")
	seed := flag.Int64("seed", 1, "PRNG seed for the alloc/free workload")
	clearOnFree := flag.Bool("clear-on-free", false, "zero payload bytes on Free")
	useMmap := flag.Bool("mmap", false, "back the heap with an anonymous mmap region instead of a Go slice (unix only)")

	flag.Parse()

	logger := log.New(os.Stdout, "rtheap-bench: ", log.LstdFlags)

	backing, release, err := makeBackingStore(*heapSize, *useMmap)
	if err != nil {
		logger.Fatalf("allocate backing store: %v", err)
	}

	if release != nil {
		defer func() {
			if err := release(); err != nil {
				logger.Printf("release backing store: %v", err)
			}
		}()
	}

	oomCount := 0

	opts := []port.Option{
		port.WithAlignment(uintptr(*alignment)),
		port.WithClearMemoryOnFree(*clearOnFree),
		port.WithLogger(logger),
		port.WithHooks(port.Hooks{
			OnOutOfMemory: func() { oomCount++ },
		}),
	}

	h, err := buildHeap(*scheme, backing, opts...)
	if err != nil {
		logger.Fatalf("build heap: %v", err)
	}

	printBanner(logger, *scheme, *heapSize, *alignment)

	runWorkload(h, *iterations, *seed)

	logger.Printf("completed %d iterations, %d out-of-memory events", *iterations, oomCount)
	printStats(logger, h)
}

func makeBackingStore(size int, useMmap bool) ([]byte, func() error, error) {
	if !useMmap {
		buf, err := port.NewBackingStore(size)
		return buf, nil, err
	}

	return newMmapBackingStore(size)
}

func buildHeap(scheme string, backing []byte, opts ...port.Option) (heap.Heap, error) {
	switch scheme {
	case "bump":
		return heap.NewBumpHeap(backing, opts...)
	case "size-ordered":
		return heap.NewSizeOrderedHeap(backing, opts...)
	case "coalescing":
		return heap.NewCoalescingHeap(backing, opts...)
	default:
		return nil, fmt.Errorf("unknown scheme %q (want bump, size-ordered, or coalescing)", scheme)
	}
}

func printBanner(logger *log.Logger, scheme string, heapSize int, alignment uint64) {
	logger.Printf("========================================")
	logger.Printf(" rtheap-bench")
	logger.Printf(" scheme:    %s", scheme)
	logger.Printf(" heap size: %d bytes", heapSize)
	logger.Printf(" alignment: %d bytes", alignment)
	logger.Printf("========================================")
}

// runWorkload exercises the heap with a bounded-lifetime alloc/free
// workload: a live set of pointers is grown by random-sized Allocate
// calls and shrunk by Free calls on older entries, so fragmentation
// accumulates the way a long-running task's heap does. SCHEME-BUMP
// panics on a non-nil Free, so for it the workload only allocates.
func runWorkload(h heap.Heap, iterations int, seed int64) {
	rng := rand.New(rand.NewSource(seed))

	const maxLive = 256

	_, isBump := h.(*heap.BumpHeap)

	live := make([]unsafe.Pointer, 0, maxLive)

	for i := 0; i < iterations; i++ {
		if !isBump && (len(live) >= maxLive || (len(live) > 0 && rng.Intn(2) == 0)) {
			idx := rng.Intn(len(live))
			ptr := live[idx]

			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]

			h.Free(ptr)

			continue
		}

		size := uintptr(rng.Intn(512) + 1)

		ptr := h.Allocate(size)
		if ptr == nil || isBump {
			continue
		}

		live = append(live, ptr)
	}

	for _, ptr := range live {
		h.Free(ptr)
	}
}

type statsReporter interface {
	GetHeapStats() heap.HeapStats
}

func printStats(logger *log.Logger, h heap.Heap) {
	logger.Printf("free heap size: %d bytes", h.FreeHeapSize())

	reporter, ok := h.(statsReporter)
	if !ok {
		logger.Printf("(scheme does not report detailed block statistics)")
		return
	}

	stats := reporter.GetHeapStats()

	logger.Printf("successful allocations: %d", stats.NumberOfSuccessfulAllocations)
	logger.Printf("successful frees:       %d", stats.NumberOfSuccessfulFrees)
	logger.Printf("free blocks:            %d", stats.NumberOfFreeBlocks)
	logger.Printf("largest free block:     %d bytes", stats.LargestFreeBlockBytes)
	logger.Printf("smallest free block:    %d bytes", stats.SmallestFreeBlockBytes)

	if stats.MinimumEverFreeBytesRemaining != 0 {
		logger.Printf("minimum ever free:      %d bytes", stats.MinimumEverFreeBytesRemaining)
	}
}
