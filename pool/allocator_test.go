package pool_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/poolalloc/internal/testutil"
	"github.com/joshuapare/poolalloc/memspace"
	"github.com/joshuapare/poolalloc/pool"
)

const (
	numElements = 10000
	sizeofInt32 = 4
)

// TestPooledAllocator allocates two int arrays, frees them one at a time and checks
// the counters on both real backends.
func TestPooledAllocator(t *testing.T) {
	for _, space := range pool.Spaces() {
		t.Run(space.String(), func(t *testing.T) {
			a := testutil.SetupAllocator(t)

			ptr1 := testutil.MustAllocate(t, a, numElements, sizeofInt32, space)
			ptr2 := testutil.MustAllocate(t, a, numElements, sizeofInt32, space)
			require.NotEqual(t, memspace.Nil, ptr1)
			require.NotEqual(t, memspace.Nil, ptr2)
			require.NotEqual(t, ptr1, ptr2)

			assert.Equal(t, 2, a.PoolCount(space))
			assert.Equal(t, 0, a.PoolFreeCount(space))
			assert.Equal(t, int64(2*numElements*sizeofInt32), a.PoolSize(space))

			require.NoError(t, a.Deallocate(&ptr1, space))
			assert.Equal(t, memspace.Nil, ptr1, "deallocate must clear the caller's address")

			assert.Equal(t, 2, a.PoolCount(space))
			assert.Equal(t, 1, a.PoolFreeCount(space))
			assert.Equal(t, int64(2*numElements*sizeofInt32), a.PoolSize(space))

			require.NoError(t, a.Deallocate(&ptr2, space))
			assert.Equal(t, a.TotalPoolCount(), a.TotalPoolFreeCount())
			require.NoError(t, a.Verify())
		})
	}
}

// TestPooledAllocatorGarbageCollection frees blocks across two collections.
func TestPooledAllocatorGarbageCollection(t *testing.T) {
	for _, space := range pool.Spaces() {
		t.Run(space.String(), func(t *testing.T) {
			a := testutil.SetupAllocator(t)

			ptr1 := testutil.MustAllocate(t, a, numElements, sizeofInt32, space)
			ptr2 := testutil.MustAllocate(t, a, numElements, sizeofInt32, space)
			assert.Equal(t, 2, a.PoolCount(space))

			require.NoError(t, a.Deallocate(&ptr1, space))
			assert.Equal(t, 2, a.PoolCount(space))
			assert.Equal(t, 1, a.PoolFreeCount(space))

			require.NoError(t, a.GarbageCollect())
			assert.Equal(t, 1, a.PoolCount(space))
			assert.Equal(t, 0, a.PoolFreeCount(space))

			require.NoError(t, a.Deallocate(&ptr2, space))
			assert.Equal(t, 1, a.PoolCount(space))
			assert.Equal(t, 1, a.PoolFreeCount(space))

			require.NoError(t, a.GarbageCollect())
			assert.Equal(t, 0, a.PoolCount(space))
			assert.Equal(t, 0, a.PoolFreeCount(space))
			assert.Zero(t, a.PoolSize(space))
		})
	}
}

func TestExactSizeReuse(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)

	p := testutil.MustAllocate(t, fa.Allocator, 256, 4, pool.Device)
	first := p
	require.NoError(t, fa.Deallocate(&p, pool.Device))

	count, size := fa.PoolCount(pool.Device), fa.PoolSize(pool.Device)

	// Same byte size through a different shape still reuses.
	q := testutil.MustAllocate(t, fa.Allocator, 128, 8, pool.Device)
	assert.Equal(t, first, q)
	assert.Equal(t, count, fa.PoolCount(pool.Device))
	assert.Equal(t, size, fa.PoolSize(pool.Device))

	allocs, _ := fa.Device.Calls()
	assert.Equal(t, 1, allocs, "reuse must not reach the backend")

	st := fa.Stats().Space(pool.Device)
	assert.Equal(t, uint64(1), st.Reuses)
	assert.Equal(t, uint64(1), st.RawAllocs)
	assert.InDelta(t, 0.5, st.ReuseRatio(), 1e-9)
}

func TestNoReuseAcrossSizesOrSpaces(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)

	p := testutil.MustAllocate(t, fa.Allocator, 1024, 1, pool.Host)
	require.NoError(t, fa.Deallocate(&p, pool.Host))

	testutil.MustAllocate(t, fa.Allocator, 1023, 1, pool.Host)
	testutil.MustAllocate(t, fa.Allocator, 1025, 1, pool.Host)
	testutil.MustAllocate(t, fa.Allocator, 1024, 1, pool.Device)

	assert.Equal(t, 3, fa.PoolCount(pool.Host))
	assert.Equal(t, 1, fa.PoolFreeCount(pool.Host))
	assert.Equal(t, 1, fa.PoolCount(pool.Device))
	assert.Equal(t, 4, fa.TotalPoolCount())
	assert.Equal(t, 1, fa.TotalPoolFreeCount())
	assert.Equal(t, int64(1024+1023+1025+1024), fa.TotalPoolSize())
}

func TestDeallocateDoesNotRelease(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)

	addrs := make([]memspace.Addr, 5)
	for i := range addrs {
		addrs[i] = testutil.MustAllocate(t, fa.Allocator, i+1, 64, pool.Host)
	}
	count, size := fa.PoolCount(pool.Host), fa.PoolSize(pool.Host)
	for i := range addrs {
		require.NoError(t, fa.Deallocate(&addrs[i], pool.Host))
		assert.Equal(t, count, fa.PoolCount(pool.Host))
		assert.Equal(t, size, fa.PoolSize(pool.Host))
	}
	_, releases := fa.Host.Calls()
	assert.Zero(t, releases)
	assert.Equal(t, 5, fa.Host.Live())
}

func TestDoubleFree(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)

	p := testutil.MustAllocate(t, fa.Allocator, 10, 4, pool.Host)
	saved := p
	require.NoError(t, fa.Deallocate(&p, pool.Host))

	err := fa.Deallocate(&saved, pool.Host)
	require.ErrorIs(t, err, pool.ErrDoubleFree)
	require.ErrorIs(t, err, pool.ErrInvalidAddress)
	assert.NotEqual(t, memspace.Nil, saved, "a rejected deallocation leaves the caller's address alone")

	assert.Equal(t, 1, fa.PoolFreeCount(pool.Host))
	require.NoError(t, fa.Verify())

	// The block is still reusable exactly once.
	q := testutil.MustAllocate(t, fa.Allocator, 10, 4, pool.Host)
	r := testutil.MustAllocate(t, fa.Allocator, 10, 4, pool.Host)
	assert.NotEqual(t, q, r)
}

func TestDeallocateInvalidAddress(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)
	p := testutil.MustAllocate(t, fa.Allocator, 10, 4, pool.Host)

	tests := []struct {
		name  string
		addr  *memspace.Addr
		space pool.Space
		want  error
	}{
		{"nil pointer", nil, pool.Host, pool.ErrInvalidAddress},
		{"nil address", new(memspace.Addr), pool.Host, pool.ErrInvalidAddress},
		{"untracked", func() *memspace.Addr { a := memspace.Addr(0xdead000); return &a }(), pool.Host, pool.ErrInvalidAddress},
		{"wrong space", func() *memspace.Addr { a := p; return &a }(), pool.Device, pool.ErrInvalidAddress},
		{"unknown space", func() *memspace.Addr { a := p; return &a }(), pool.Space(9), pool.ErrUnknownSpace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fa.Deallocate(tt.addr, tt.space)
			require.ErrorIs(t, err, tt.want)
			assert.False(t, errors.Is(err, pool.ErrDoubleFree))
		})
	}

	assert.Equal(t, 0, fa.TotalPoolFreeCount())
	require.NoError(t, fa.Verify())
}

func TestAllocateRejectsBadRequests(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)

	_, err := fa.Allocate(0, 4, pool.Host)
	require.ErrorIs(t, err, pool.ErrInvalidSize)

	_, err = fa.Allocate(4, 0, pool.Host)
	require.ErrorIs(t, err, pool.ErrInvalidSize)

	_, err = fa.Allocate(1<<40, 1<<40, pool.Device)
	require.ErrorIs(t, err, pool.ErrOverflow)

	_, err = fa.Allocate(1, 1, pool.Space(2))
	require.ErrorIs(t, err, pool.ErrUnknownSpace)

	hostAllocs, _ := fa.Host.Calls()
	devAllocs, _ := fa.Device.Calls()
	assert.Zero(t, hostAllocs+devAllocs, "rejected requests never reach a backend")
	assert.Zero(t, fa.TotalPoolCount())
}

func TestAllocateOutOfMemoryLeavesRegistryUnchanged(t *testing.T) {
	for _, locked := range []bool{false, true} {
		name := "unlocked"
		if locked {
			name = "locked"
		}
		t.Run(name, func(t *testing.T) {
			fa := testutil.SetupFakeAllocator(t, pool.WithLockedRawAlloc(locked))
			fa.Device.FailAfter(2)

			p := testutil.MustAllocate(t, fa.Allocator, 100, 1, pool.Device)
			testutil.MustAllocate(t, fa.Allocator, 200, 1, pool.Device)
			require.NoError(t, fa.Deallocate(&p, pool.Device))
			before := fa.Stats().Space(pool.Device)

			_, err := fa.Allocate(300, 1, pool.Device)
			require.ErrorIs(t, err, pool.ErrOutOfMemory)
			require.ErrorIs(t, err, memspace.ErrOutOfMemory)
			assert.Equal(t, before, fa.Stats().Space(pool.Device))

			// The reuse path still works after a failed raw allocation.
			q, err := fa.Allocate(100, 1, pool.Device)
			require.NoError(t, err)
			assert.NotEqual(t, memspace.Nil, q)

			// No implicit retry after a collection: the caller has to do it.
			require.NoError(t, fa.GarbageCollect())
			_, err = fa.Allocate(300, 1, pool.Device)
			require.ErrorIs(t, err, pool.ErrOutOfMemory)
			require.NoError(t, fa.Verify())
		})
	}
}

func TestAllocateWrapsBackendErrorsAsOutOfMemory(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)
	fa.Host.FailWith(testutil.ErrInjected)

	_, err := fa.Allocate(8, 8, pool.Host)
	require.ErrorIs(t, err, pool.ErrOutOfMemory)
	require.ErrorIs(t, err, testutil.ErrInjected)
	assert.Zero(t, fa.PoolCount(pool.Host))
}

func TestAllocateRejectsAliasedAddress(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)

	p := testutil.MustAllocate(t, fa.Allocator, 64, 1, pool.Host)
	fa.Host.RepeatNext(p)

	_, err := fa.Allocate(32, 1, pool.Host)
	require.ErrorIs(t, err, pool.ErrInvalidAddress)
	assert.Equal(t, 1, fa.PoolCount(pool.Host))
	assert.Equal(t, int64(64), fa.PoolSize(pool.Host))
	require.NoError(t, fa.Verify())
}

func TestAllocateInto(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)

	var p memspace.Addr
	require.NoError(t, fa.AllocateInto(&p, 4, 4, pool.Host))
	assert.NotEqual(t, memspace.Nil, p)

	q := memspace.Addr(0x42)
	require.ErrorIs(t, fa.AllocateInto(&q, 0, 4, pool.Host), pool.ErrInvalidSize)
	assert.Equal(t, memspace.Addr(0x42), q)

	require.ErrorIs(t, fa.AllocateInto(nil, 1, 1, pool.Host), pool.ErrInvalidAddress)
}

func TestGarbageCollectKeepsInUseBlocks(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)

	var live []memspace.Addr
	for i := range 20 {
		space := pool.Spaces()[i%2]
		p := testutil.MustAllocate(t, fa.Allocator, 1+i%3, 512, space)
		if i%4 == 0 {
			require.NoError(t, fa.Deallocate(&p, space))
			continue
		}
		live = append(live, p)
	}

	require.NoError(t, fa.GarbageCollect())
	for _, space := range pool.Spaces() {
		assert.Zero(t, fa.PoolFreeCount(space))
	}
	assert.Equal(t, len(live), fa.TotalPoolCount())
	assert.Equal(t, len(live), fa.Host.Live()+fa.Device.Live())
	require.NoError(t, fa.Verify())
}

func TestGarbageCollectSpace(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)

	h := testutil.MustAllocate(t, fa.Allocator, 8, 8, pool.Host)
	d := testutil.MustAllocate(t, fa.Allocator, 8, 8, pool.Device)
	require.NoError(t, fa.Deallocate(&h, pool.Host))
	require.NoError(t, fa.Deallocate(&d, pool.Device))

	require.NoError(t, fa.GarbageCollectSpace(pool.Device))
	assert.Equal(t, 1, fa.PoolFreeCount(pool.Host))
	assert.Zero(t, fa.PoolCount(pool.Device))

	require.ErrorIs(t, fa.GarbageCollectSpace(pool.Space(5)), pool.ErrUnknownSpace)
}

func TestGarbageCollectReportsReleaseErrors(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)

	p := testutil.MustAllocate(t, fa.Allocator, 8, 8, pool.Host)
	q := testutil.MustAllocate(t, fa.Allocator, 16, 8, pool.Host)
	require.NoError(t, fa.Deallocate(&p, pool.Host))
	require.NoError(t, fa.Deallocate(&q, pool.Host))

	fa.Host.FailReleases(true)
	err := fa.GarbageCollect()
	require.ErrorIs(t, err, testutil.ErrInjected)
	assert.Contains(t, err.Error(), "host garbage collection")

	assert.Zero(t, fa.PoolCount(pool.Host), "failed blocks are not retried")
	require.NoError(t, fa.Verify())
}

func TestCloseReleasesEverything(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)

	p := testutil.MustAllocate(t, fa.Allocator, 8, 8, pool.Host)
	testutil.MustAllocate(t, fa.Allocator, 8, 8, pool.Host)
	testutil.MustAllocate(t, fa.Allocator, 32, 8, pool.Device)
	require.NoError(t, fa.Deallocate(&p, pool.Host))

	require.NoError(t, fa.Close())
	assert.Zero(t, fa.Host.Live())
	assert.Zero(t, fa.Device.Live())
	assert.Zero(t, fa.TotalPoolCount())
	assert.True(t, fa.Stats().Closed)

	require.NoError(t, fa.Close(), "second close is a no-op")

	_, err := fa.Allocate(1, 1, pool.Host)
	require.ErrorIs(t, err, pool.ErrClosed)
	require.ErrorIs(t, fa.Deallocate(&p, pool.Host), pool.ErrClosed)
	require.ErrorIs(t, fa.GarbageCollect(), pool.ErrClosed)
}

func TestCloseReportsReleaseErrors(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)
	testutil.MustAllocate(t, fa.Allocator, 8, 8, pool.Device)

	fa.Device.FailReleases(true)
	err := fa.Close()
	require.ErrorIs(t, err, testutil.ErrInjected)
	assert.Contains(t, err.Error(), "device close")
}

func TestNewOptions(t *testing.T) {
	_, err := pool.New(pool.WithBackend(pool.Space(3), testutil.NewFakeBackend(0)))
	require.ErrorIs(t, err, pool.ErrUnknownSpace)

	fa := testutil.SetupFakeAllocator(t, pool.WithName("conv"))
	assert.Equal(t, "conv", fa.Name())
	assert.Equal(t, "pool.Allocator(conv)", fa.String())
	assert.Equal(t, "conv", fa.Stats().Name)
	assert.Same(t, fa.Host, fa.Allocator.Backend(pool.Host))
	assert.Nil(t, fa.Allocator.Backend(pool.Space(4)))

	anon := testutil.SetupFakeAllocator(t)
	assert.Equal(t, "pool.Allocator", anon.String())
}

func TestIntrospectionUnknownSpace(t *testing.T) {
	fa := testutil.SetupFakeAllocator(t)
	testutil.MustAllocate(t, fa.Allocator, 8, 8, pool.Host)

	assert.Zero(t, fa.PoolCount(pool.Space(8)))
	assert.Zero(t, fa.PoolFreeCount(pool.Space(8)))
	assert.Zero(t, fa.PoolSize(pool.Space(8)))
	assert.Equal(t, pool.SpaceStats{}, fa.Stats().Space(pool.Space(8)))
}

func TestLoggerReportsDoubleFree(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	fa := testutil.SetupFakeAllocator(t, pool.WithName("logged"), pool.WithLogger(logger))

	p := testutil.MustAllocate(t, fa.Allocator, 4, 4, pool.Device)
	saved := p
	require.NoError(t, fa.Deallocate(&p, pool.Device))
	require.Error(t, fa.Deallocate(&saved, pool.Device))

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "invalid deallocation" {
			found = true
			assert.Equal(t, "ERROR", entry["level"])
			assert.Equal(t, "logged", entry["allocator"])
			assert.Equal(t, "device", entry["space"])
		}
	}
	assert.True(t, found, "double free must be logged")
}
