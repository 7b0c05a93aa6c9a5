package memspace

import "time"

// DeviceOptions configures the device backend.
type DeviceOptions struct {
	// Capacity caps the bytes held by the device. Zero means no cap beyond
	// what the device itself enforces.
	Capacity int64

	// Latency is added to every raw allocation by the simulated device.
	// The CUDA backend ignores it.
	Latency time.Duration
}
