package pool

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/joshuapare/poolalloc/memspace"
	"github.com/joshuapare/poolalloc/pkg/metrics"
)

// Option configures an Allocator.
type Option func(*options)

type options struct {
	name           string
	log            *slog.Logger
	metrics        *metrics.Registry
	backends       [numSpaces]memspace.Backend
	device         memspace.DeviceOptions
	lockedRawAlloc bool
	err            error
}

func defaultOptions() options {
	return options{
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithName sets a diagnostic name. It shows up in logs, metric labels and String.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics publishes pool state and operation counters to r.
func WithMetrics(r *metrics.Registry) Option {
	return func(o *options) {
		o.metrics = r
	}
}

// WithBackend replaces the raw allocator of one memory space.
func WithBackend(space Space, b memspace.Backend) Option {
	return func(o *options) {
		if !space.valid() {
			o.err = fmt.Errorf("%w: %d", ErrUnknownSpace, space)
			return
		}
		o.backends[space] = b
	}
}

// WithDeviceOptions configures the default device backend. It has no effect when
// WithBackend(Device, ...) is also given.
func WithDeviceOptions(d memspace.DeviceOptions) Option {
	return func(o *options) {
		o.device = d
	}
}

// WithLockedRawAlloc keeps the allocator mutex held across raw backend allocations.
// This serializes every operation behind a slow device allocation; the default
// (false) releases the mutex for the duration of the raw call.
func WithLockedRawAlloc(locked bool) Option {
	return func(o *options) {
		o.lockedRawAlloc = locked
	}
}
