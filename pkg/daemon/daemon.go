// Package daemon implements the lifecycle of an SPP secondary process.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/psaab/spp/pkg/api"
	"github.com/psaab/spp/pkg/capture"
	"github.com/psaab/spp/pkg/config"
	"github.com/psaab/spp/pkg/configstore"
	"github.com/psaab/spp/pkg/dataplane"
	"github.com/psaab/spp/pkg/grpcapi"
	"github.com/psaab/spp/pkg/mgmt"
	"github.com/psaab/spp/pkg/runner"
	"github.com/psaab/spp/pkg/transport"
	"github.com/psaab/spp/pkg/worker"

	_ "github.com/psaab/spp/pkg/dataplane/dpdk"
	_ "github.com/psaab/spp/pkg/dataplane/kernel"
)

// Daemon is one secondary process.
type Daemon struct {
	opts *config.Options

	statusRetries  int
	statusInterval time.Duration
	transportOpts  transport.Options
}

// New creates a daemon from resolved options.
func New(opts *config.Options) *Daemon {
	return &Daemon{
		opts:           opts,
		statusRetries:  mgmt.StatusCheckMax,
		statusInterval: mgmt.StatusCheckInterval,
	}
}

// lcoreRunner is what drives the lcores: a worker pool or a capture engine.
type lcoreRunner interface {
	Run(ctx context.Context) error
}

// Run starts the process and blocks until exit, a signal, or a fatal
// error.
func (d *Daemon) Run(ctx context.Context) error {
	o := d.opts
	slog.Info("starting spp secondary",
		"process", o.Process.String(),
		"client_id", o.ClientID,
		"lcores", o.Lcores,
		"backend", o.Backend,
		"pid", os.Getpid())

	backend, err := dataplane.NewBackend(o.Backend, o.BackendOptions())
	if err != nil {
		return fmt.Errorf("dataplane: %w", err)
	}
	ports := dataplane.NewManager(backend)
	defer func() {
		logFinalStats(ports)
		if err := ports.Close(); err != nil {
			slog.Warn("closing dataplane", "err", err)
		}
	}()

	store := configstore.New(o.Journal)
	st := mgmt.NewState(mgmt.Options{
		ClientID: o.ClientID,
		Process:  o.Process,
		Lcores:   o.Lcores,
		PhyPorts: o.PhyPorts,
		Opener:   ports,
	})

	var (
		lcores  lcoreRunner
		engine  *capture.Engine
		pool    *worker.Pool
		runOpts = runner.Options{Store: store}
	)
	if o.Process == mgmt.ProcPcap {
		h, err := ports.Open(o.CapturePort)
		if err != nil {
			return fmt.Errorf("capture port: %w", err)
		}
		engine, err = capture.New(st, capture.Options{
			ClientID: o.ClientID,
			Port:     o.CapturePort,
			Handle:   h,
			Lcores:   o.Lcores,
			Dir:      o.Output,
			Limit:    o.LimitFileSize,
			RingSize: o.RingSize,
		})
		if err != nil {
			return err
		}
		runOpts.Capture = engine
		lcores = engine
	} else {
		pool = worker.NewPool(st, o.Lcores, worker.Options{Affinity: o.PinLcores})
		lcores = pool
	}
	r := runner.New(st, runOpts)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Lcores stop through the status handshake; their context is only a
	// backstop once the wait has given up.
	lctx, lcancel := context.WithCancel(context.Background())
	defer lcancel()
	lcoresDone := make(chan struct{})
	var lcoresErr error
	go func() {
		lcoresErr = lcores.Run(lctx)
		close(lcoresDone)
	}()

	if err := st.WaitStatus(ctx, mgmt.StatusIdling, d.statusRetries, d.statusInterval); err != nil {
		d.shutdown(st, lcancel, lcoresDone)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("lcores did not come up: %w", err)
	}
	st.SetAllStatus(mgmt.StatusForwarding)
	slog.Info("lcores forwarding", "lcores", st.Lcores())

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(sctx)

	client := transport.NewClient(o.Server, d.transportOpts)
	g.Go(func() error {
		defer cancel()
		return client.Run(gctx, func(msg string) ([]byte, bool) {
			resp, err := r.Execute(msg).Marshal()
			if err != nil {
				slog.Error("encoding response", "err", err)
			}
			return resp, r.ExitRequested()
		})
	})
	g.Go(func() error {
		select {
		case <-r.Exited():
			slog.Info("exit command received, shutting down")
			cancel()
		case <-lcoresDone:
			cancel()
			if lcoresErr != nil {
				return fmt.Errorf("lcores: %w", lcoresErr)
			}
		case <-gctx.Done():
		}
		return nil
	})
	if o.APIAddr != "" {
		apiCfg := api.Config{
			Addr:      o.APIAddr,
			Token:     o.APIToken,
			Runner:    r,
			State:     st,
			Ports:     ports,
			Workers:   pool,
			Transport: client,
			Store:     store,
		}
		if engine != nil {
			apiCfg.Capture = engine
		}
		srv := api.NewServer(apiCfg)
		g.Go(func() error { return srv.Run(gctx) })
	}
	if o.GRPCAddr != "" {
		srv := grpcapi.NewServer(o.GRPCAddr, grpcapi.Config{Runner: r, Store: store})
		g.Go(func() error { return srv.Run(gctx) })
	}

	runErr := g.Wait()
	if ctx.Err() != nil && !r.ExitRequested() {
		slog.Info("signal received, shutting down")
	}
	d.shutdown(st, lcancel, lcoresDone)
	slog.Info("shutdown complete")
	return runErr
}

// shutdown asks every lcore to stop and waits a bounded time for them.
func (d *Daemon) shutdown(st *mgmt.State, lcancel context.CancelFunc, done <-chan struct{}) {
	st.SetAllStatus(mgmt.StatusStopRequested)
	if err := st.WaitStatus(context.Background(), mgmt.StatusStopped, d.statusRetries, d.statusInterval); err != nil {
		slog.Error("Core did not stop", "err", err)
	}
	lcancel()
	<-done
}

// logFinalStats logs per-port counters before the dataplane closes.
func logFinalStats(ports *dataplane.Manager) {
	for _, h := range ports.Handles() {
		slog.Info("final port statistics",
			"port", h.ID.String(),
			"rx_packets", h.Stats.RxPackets.Load(),
			"tx_packets", h.Stats.TxPackets.Load(),
			"tx_drops", h.Stats.TxDrops.Load())
	}
}
