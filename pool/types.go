package pool

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joshuapare/poolalloc/memspace"
)

// DefaultBlockSize is the block size used by the bundled workloads. Requests are
// never rounded to it.
const DefaultBlockSize = 8192

// Space selects a memory space.
type Space uint8

const (
	Host Space = iota
	Device

	numSpaces
)

// Spaces returns every memory space in index order.
func Spaces() []Space {
	return []Space{Host, Device}
}

func (s Space) String() string {
	switch s {
	case Host:
		return "host"
	case Device:
		return "device"
	default:
		return fmt.Sprintf("space(%d)", uint8(s))
	}
}

// LogValue logs the space by name.
func (s Space) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

func (s Space) valid() bool {
	return s < numSpaces
}

// ParseSpace parses "host" or "device" (case-insensitive).
func ParseSpace(name string) (Space, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "host":
		return Host, nil
	case "device", "dev":
		return Device, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSpace, name)
	}
}

// blockState is the state of a tracked block.
type blockState uint8

const (
	stateInUse blockState = iota
	stateFree
)

func (s blockState) String() string {
	if s == stateFree {
		return "free"
	}
	return "in-use"
}

// block is one tracked allocation. size never changes after creation.
type block struct {
	addr  memspace.Addr
	size  int
	state blockState
}
