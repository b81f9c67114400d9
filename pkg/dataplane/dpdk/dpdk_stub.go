//go:build !dpdk

package dpdk

import (
	"errors"

	"github.com/psaab/spp/pkg/dataplane"
)

// ErrUnsupported is returned when the binary was built without DPDK.
var ErrUnsupported = errors.New("dpdk backend not compiled in (build with -tags dpdk)")

// Backend is unavailable in this build.
type Backend struct{}

// New always fails without the dpdk build tag.
func New(opts dataplane.BackendOptions) (*Backend, error) {
	return nil, ErrUnsupported
}

func (b *Backend) Open(id dataplane.PortID) (dataplane.Port, error) {
	return nil, ErrUnsupported
}

func (b *Backend) Close() error { return nil }
