//go:build dpdk

package dpdk

/*
#cgo pkg-config: libdpdk
#include <rte_eal.h>
#include <rte_ethdev.h>
#include <rte_mbuf.h>
#include <stdlib.h>
#include <string.h>

static uint16_t spp_rx_burst(uint16_t port, struct rte_mbuf **pkts, uint16_t n) {
	return rte_eth_rx_burst(port, 0, pkts, n);
}

static uint16_t spp_tx_burst(uint16_t port, struct rte_mbuf **pkts, uint16_t n) {
	return rte_eth_tx_burst(port, 0, pkts, n);
}

static void *spp_mbuf_data(struct rte_mbuf *m) {
	return rte_pktmbuf_mtod(m, void *);
}

static uint16_t spp_mbuf_len(struct rte_mbuf *m) {
	return rte_pktmbuf_data_len(m);
}

static struct rte_mbuf *spp_mbuf_from(struct rte_mempool *mp, const void *data, uint16_t len) {
	struct rte_mbuf *m = rte_pktmbuf_alloc(mp);
	if (m == NULL)
		return NULL;
	char *dst = rte_pktmbuf_append(m, len);
	if (dst == NULL) {
		rte_pktmbuf_free(m);
		return NULL;
	}
	memcpy(dst, data, len);
	return m;
}

static void spp_mbuf_free(struct rte_mbuf *m) {
	rte_pktmbuf_free(m);
}
*/
import "C"

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/psaab/spp/pkg/dataplane"
)

const (
	maxBurst     = 32
	mbufPoolName = "MProc_pktmbuf_pool"
)

var ealOnce struct {
	sync.Once
	err error
}

func initEAL(extra []string) error {
	ealOnce.Do(func() {
		args := ealArgs(extra)
		cArgs := make([]*C.char, len(args))
		for i, a := range args {
			cArgs[i] = C.CString(a)
		}
		defer func() {
			for _, ca := range cArgs {
				C.free(unsafe.Pointer(ca))
			}
		}()
		if ret := C.rte_eal_init(C.int(len(cArgs)), &cArgs[0]); ret < 0 {
			ealOnce.err = fmt.Errorf("rte_eal_init failed: %d", ret)
			return
		}
		slog.Info("DPDK EAL initialized as secondary", "args", args)
	})
	return ealOnce.err
}

// Backend opens ethdev ports shared by the primary process.
type Backend struct {
	pool *C.struct_rte_mempool
}

// New initializes the EAL and finds the primary's mbuf pool.
func New(opts dataplane.BackendOptions) (*Backend, error) {
	if err := initEAL(opts.ProcArgs); err != nil {
		return nil, err
	}
	name := C.CString(mbufPoolName)
	defer C.free(unsafe.Pointer(name))
	pool := C.rte_mempool_lookup(name)
	if pool == nil {
		return nil, fmt.Errorf("mbuf pool %s not found", mbufPoolName)
	}
	return &Backend{pool: pool}, nil
}

func (b *Backend) Open(id dataplane.PortID) (dataplane.Port, error) {
	var port C.uint16_t
	if id.Type == dataplane.IfacePhy {
		port = C.uint16_t(id.No)
		if C.rte_eth_dev_is_valid_port(port) == 0 {
			return nil, fmt.Errorf("%s: no ethdev port %d", id, id.No)
		}
	} else {
		name, err := devName(id)
		if err != nil {
			return nil, err
		}
		cname := C.CString(name)
		defer C.free(unsafe.Pointer(cname))
		if ret := C.rte_eth_dev_get_port_by_name(cname, &port); ret != 0 {
			return nil, fmt.Errorf("%s: ethdev %s not found: %d", id, name, ret)
		}
	}
	slog.Debug("DPDK port opened", "port", id.String(), "ethdev", int(port))
	return &ethPort{id: port, pool: b.pool}, nil
}

func (b *Backend) Close() error {
	if ret := C.rte_eal_cleanup(); ret != 0 {
		return fmt.Errorf("rte_eal_cleanup: %d", ret)
	}
	return nil
}

type ethPort struct {
	id   C.uint16_t
	pool *C.struct_rte_mempool
	bufs [maxBurst]*C.struct_rte_mbuf
}

func (p *ethPort) RxBurst(pkts []*dataplane.Packet) int {
	n := min(len(pkts), maxBurst)
	got := int(C.spp_rx_burst(p.id, &p.bufs[0], C.uint16_t(n)))
	for i := 0; i < got; i++ {
		m := p.bufs[i]
		l := int(C.spp_mbuf_len(m))
		data := C.GoBytes(C.spp_mbuf_data(m), C.int(l))
		C.spp_mbuf_free(m)
		pkts[i] = &dataplane.Packet{Data: data}
	}
	return got
}

func (p *ethPort) TxBurst(pkts []*dataplane.Packet) int {
	n := 0
	for _, pkt := range pkts[:min(len(pkts), maxBurst)] {
		data := C.CBytes(pkt.Data)
		m := C.spp_mbuf_from(p.pool, data, C.uint16_t(len(pkt.Data)))
		C.free(data)
		if m == nil {
			break
		}
		p.bufs[n] = m
		n++
	}
	if n == 0 {
		return 0
	}
	sent := int(C.spp_tx_burst(p.id, &p.bufs[0], C.uint16_t(n)))
	for i := sent; i < n; i++ {
		C.spp_mbuf_free(p.bufs[i])
	}
	return sent
}
