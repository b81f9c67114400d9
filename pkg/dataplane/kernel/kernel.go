//go:build linux

package kernel

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/psaab/spp/pkg/dataplane"
)

const (
	// frameSize bounds a single received frame.
	frameSize = 65536
	// VhostPrefix names the tap device behind vhost:N.
	VhostPrefix = "spp_vhost"
)

func init() {
	dataplane.RegisterBackend("kernel", func(opts dataplane.BackendOptions) (dataplane.Backend, error) {
		return New(opts)
	})
}

// Backend opens kernel-backed ports.
type Backend struct {
	phys  []string
	rings *dataplane.RingBackend

	mu    sync.Mutex
	ports []closer
}

type closer interface{ Close() error }

// New resolves the phy:N mapping. With no explicit interface list every
// non-loopback device link is used, in name order.
func New(opts dataplane.BackendOptions) (*Backend, error) {
	phys := opts.PhyIfaces
	if len(phys) == 0 {
		links, err := netlink.LinkList()
		if err != nil {
			return nil, fmt.Errorf("listing links: %w", err)
		}
		for _, l := range links {
			attrs := l.Attrs()
			if l.Type() != "device" || attrs.Flags&unix.IFF_LOOPBACK != 0 {
				continue
			}
			phys = append(phys, attrs.Name)
		}
		sort.Strings(phys)
	}
	slog.Info("kernel dataplane backend", "phy", phys)
	return &Backend{phys: phys, rings: dataplane.NewRingBackend(opts.RingSize)}, nil
}

// PhyIfaces returns the netdev names behind phy:0, phy:1, ...
func (b *Backend) PhyIfaces() []string { return b.phys }

// Open opens the port for id.
func (b *Backend) Open(id dataplane.PortID) (dataplane.Port, error) {
	switch id.Type {
	case dataplane.IfaceRing:
		return b.rings.Open(id)
	case dataplane.IfacePhy:
		if id.No >= len(b.phys) {
			return nil, fmt.Errorf("%s: only %d phy interfaces", id, len(b.phys))
		}
		p, err := openPacketSocket(b.phys[id.No])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		b.track(p)
		return p, nil
	case dataplane.IfaceVhost:
		p, err := openTap(fmt.Sprintf("%s%d", VhostPrefix, id.No))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		b.track(p)
		return p, nil
	}
	return nil, fmt.Errorf("unsupported port %s", id)
}

func (b *Backend) track(c closer) {
	b.mu.Lock()
	b.ports = append(b.ports, c)
	b.mu.Unlock()
}

// Close closes every port opened through the backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for _, p := range b.ports {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.ports = nil
	return errors.Join(errs...)
}

// packetSocket is an AF_PACKET raw socket bound to one interface.
type packetSocket struct {
	name string
	fd   int
	buf  []byte
}

func openPacketSocket(name string) (*packetSocket, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return nil, fmt.Errorf("link %s up: %w", name, err)
	}
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("packet socket: %w", err)
	}
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  link.Attrs().Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", name, err)
	}
	slog.Debug("packet socket opened", "iface", name, "ifindex", sa.Ifindex)
	return &packetSocket{name: name, fd: fd, buf: make([]byte, frameSize)}, nil
}

func (s *packetSocket) RxBurst(pkts []*dataplane.Packet) int {
	return rxBurst(pkts, func(buf []byte) (int, error) {
		n, from, err := unix.Recvfrom(s.fd, buf, unix.MSG_DONTWAIT)
		if err == nil {
			// Skip our own transmissions looped back by the kernel.
			if ll, ok := from.(*unix.SockaddrLinklayer); ok && ll.Pkttype == unix.PACKET_OUTGOING {
				return 0, nil
			}
		}
		return n, err
	}, s.buf)
}

func (s *packetSocket) TxBurst(pkts []*dataplane.Packet) int {
	return txBurst(pkts, func(b []byte) error {
		_, err := unix.Write(s.fd, b)
		return err
	})
}

func (s *packetSocket) Close() error { return unix.Close(s.fd) }

// tapPort is a tap device owned by this process.
type tapPort struct {
	link *netlink.Tuntap
	file *os.File
	fd   int
	buf  []byte
}

func openTap(name string) (*tapPort, error) {
	tap := &netlink.Tuntap{
		LinkAttrs:  netlink.LinkAttrs{Name: name},
		Mode:       netlink.TUNTAP_MODE_TAP,
		Flags:      netlink.TUNTAP_NO_PI | netlink.TUNTAP_ONE_QUEUE,
		Queues:     1,
		NonPersist: true,
	}
	if err := netlink.LinkAdd(tap); err != nil {
		return nil, fmt.Errorf("create tap %s: %w", name, err)
	}
	if len(tap.Fds) == 0 {
		netlink.LinkDel(tap)
		return nil, fmt.Errorf("tap %s: no queue descriptor", name)
	}
	if err := netlink.LinkSetUp(tap); err != nil {
		netlink.LinkDel(tap)
		return nil, fmt.Errorf("tap %s up: %w", name, err)
	}
	f := tap.Fds[0]
	fd := int(f.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		f.Close()
		netlink.LinkDel(tap)
		return nil, fmt.Errorf("tap %s nonblock: %w", name, err)
	}
	slog.Info("tap device created", "name", name)
	return &tapPort{link: tap, file: f, fd: fd, buf: make([]byte, frameSize)}, nil
}

func (t *tapPort) RxBurst(pkts []*dataplane.Packet) int {
	return rxBurst(pkts, func(buf []byte) (int, error) {
		return unix.Read(t.fd, buf)
	}, t.buf)
}

func (t *tapPort) TxBurst(pkts []*dataplane.Packet) int {
	return txBurst(pkts, func(b []byte) error {
		_, err := unix.Write(t.fd, b)
		return err
	})
}

func (t *tapPort) Close() error {
	err := t.file.Close()
	if derr := netlink.LinkDel(t.link); derr != nil && err == nil {
		err = derr
	}
	return err
}

// rxBurst reads frames until pkts is full or the descriptor would block.
// read returning (0, nil) skips a frame.
func rxBurst(pkts []*dataplane.Packet, read func([]byte) (int, error), buf []byte) int {
	n := 0
	for n < len(pkts) {
		m, err := read(buf)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
				slog.Debug("rx error", "err", err)
			}
			break
		}
		if m == 0 {
			continue
		}
		data := make([]byte, m)
		copy(data, buf[:m])
		pkts[n] = &dataplane.Packet{Data: data}
		n++
	}
	return n
}

// txBurst writes frames in order and stops at the first refused one.
func txBurst(pkts []*dataplane.Packet, write func([]byte) error) int {
	for i, p := range pkts {
		if err := write(p.Data); err != nil {
			return i
		}
	}
	return len(pkts)
}

func htons(v uint16) uint16 { return (v << 8) | (v >> 8) }
