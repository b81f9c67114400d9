package api

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// sppCollector implements prometheus.Collector, reading live counters on
// each scrape.
type sppCollector struct {
	cfg Config

	requestsTotal      *prometheus.Desc
	requestErrorsTotal *prometheus.Desc
	flushesTotal       *prometheus.Desc
	rollbacksTotal     *prometheus.Desc

	coreStatus *prometheus.Desc
	components *prometheus.Desc

	portPacketsTotal *prometheus.Desc
	portBytesTotal   *prometheus.Desc
	portDropsTotal   *prometheus.Desc

	workerPacketsTotal *prometheus.Desc

	capturePacketsTotal *prometheus.Desc
	captureDropsTotal   *prometheus.Desc
	captureErrorsTotal  *prometheus.Desc

	controllerConnected     *prometheus.Desc
	controllerMessagesTotal *prometheus.Desc
}

func newCollector(cfg Config) *sppCollector {
	return &sppCollector{
		cfg: cfg,

		requestsTotal: prometheus.NewDesc(
			"spp_requests_total",
			"Command requests handled.",
			nil, nil,
		),
		requestErrorsTotal: prometheus.NewDesc(
			"spp_request_errors_total",
			"Command requests rejected, by stage.",
			[]string{"stage"}, nil,
		),
		flushesTotal: prometheus.NewDesc(
			"spp_flushes_total",
			"Successful flushes of the management tables.",
			nil, nil,
		),
		rollbacksTotal: prometheus.NewDesc(
			"spp_rollbacks_total",
			"Flushes rolled back to the backup.",
			nil, nil,
		),
		coreStatus: prometheus.NewDesc(
			"spp_core_status",
			"Lcore status; 1 for the current status.",
			[]string{"core", "status"}, nil,
		),
		components: prometheus.NewDesc(
			"spp_components",
			"Running components by type.",
			[]string{"type"}, nil,
		),
		portPacketsTotal: prometheus.NewDesc(
			"spp_port_packets_total",
			"Packets per port.",
			[]string{"port", "direction"}, nil,
		),
		portBytesTotal: prometheus.NewDesc(
			"spp_port_bytes_total",
			"Bytes per port.",
			[]string{"port", "direction"}, nil,
		),
		portDropsTotal: prometheus.NewDesc(
			"spp_port_tx_drops_total",
			"Packets a port refused to transmit.",
			[]string{"port"}, nil,
		),
		workerPacketsTotal: prometheus.NewDesc(
			"spp_worker_packets_total",
			"Packets handled per worker lcore.",
			[]string{"core", "result"}, nil,
		),
		capturePacketsTotal: prometheus.NewDesc(
			"spp_capture_packets_total",
			"Packets written to capture files.",
			nil, nil,
		),
		captureDropsTotal: prometheus.NewDesc(
			"spp_capture_drops_total",
			"Packets dropped because the capture ring was full.",
			nil, nil,
		),
		captureErrorsTotal: prometheus.NewDesc(
			"spp_capture_errors_total",
			"Capture file errors.",
			nil, nil,
		),
		controllerConnected: prometheus.NewDesc(
			"spp_controller_connected",
			"1 while connected to the controller.",
			nil, nil,
		),
		controllerMessagesTotal: prometheus.NewDesc(
			"spp_controller_messages_total",
			"Command messages received from the controller.",
			nil, nil,
		),
	}
}

func (c *sppCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requestsTotal
	ch <- c.requestErrorsTotal
	ch <- c.flushesTotal
	ch <- c.rollbacksTotal
	ch <- c.coreStatus
	ch <- c.components
	ch <- c.portPacketsTotal
	ch <- c.portBytesTotal
	ch <- c.portDropsTotal
	ch <- c.workerPacketsTotal
	ch <- c.capturePacketsTotal
	ch <- c.captureDropsTotal
	ch <- c.captureErrorsTotal
	ch <- c.controllerConnected
	ch <- c.controllerMessagesTotal
}

func (c *sppCollector) Collect(ch chan<- prometheus.Metric) {
	if r := c.cfg.Runner; r != nil {
		ch <- prometheus.MustNewConstMetric(c.requestsTotal, prometheus.CounterValue, float64(r.Requests.Load()))
		ch <- prometheus.MustNewConstMetric(c.requestErrorsTotal, prometheus.CounterValue, float64(r.ParseErrors.Load()), "parse")
		ch <- prometheus.MustNewConstMetric(c.requestErrorsTotal, prometheus.CounterValue, float64(r.ExecErrors.Load()), "exec")
	}
	if st := c.cfg.State; st != nil {
		ch <- prometheus.MustNewConstMetric(c.flushesTotal, prometheus.CounterValue, float64(st.Flushes.Load()))
		ch <- prometheus.MustNewConstMetric(c.rollbacksTotal, prometheus.CounterValue, float64(st.Rollbacks.Load()))
		c.collectTopology(ch)
	}
	if m := c.cfg.Ports; m != nil {
		for _, h := range m.Handles() {
			port := h.ID.String()
			ch <- prometheus.MustNewConstMetric(c.portPacketsTotal, prometheus.CounterValue, float64(h.Stats.RxPackets.Load()), port, "rx")
			ch <- prometheus.MustNewConstMetric(c.portPacketsTotal, prometheus.CounterValue, float64(h.Stats.TxPackets.Load()), port, "tx")
			ch <- prometheus.MustNewConstMetric(c.portBytesTotal, prometheus.CounterValue, float64(h.Stats.RxBytes.Load()), port, "rx")
			ch <- prometheus.MustNewConstMetric(c.portBytesTotal, prometheus.CounterValue, float64(h.Stats.TxBytes.Load()), port, "tx")
			ch <- prometheus.MustNewConstMetric(c.portDropsTotal, prometheus.CounterValue, float64(h.Stats.TxDrops.Load()), port)
		}
	}
	if p := c.cfg.Workers; p != nil {
		for _, w := range p.Workers() {
			core := strconv.Itoa(w.Lcore())
			ch <- prometheus.MustNewConstMetric(c.workerPacketsTotal, prometheus.CounterValue, float64(w.Stats.Forwarded.Load()), core, "forwarded")
			ch <- prometheus.MustNewConstMetric(c.workerPacketsTotal, prometheus.CounterValue, float64(w.Stats.Dropped.Load()), core, "dropped")
		}
	}
	if cs := c.cfg.Capture; cs != nil {
		captured, dropped, errs := cs.Counters()
		ch <- prometheus.MustNewConstMetric(c.capturePacketsTotal, prometheus.CounterValue, float64(captured))
		ch <- prometheus.MustNewConstMetric(c.captureDropsTotal, prometheus.CounterValue, float64(dropped))
		ch <- prometheus.MustNewConstMetric(c.captureErrorsTotal, prometheus.CounterValue, float64(errs))
	}
	if t := c.cfg.Transport; t != nil {
		connected := 0.0
		if t.Stats().Connected.Load() {
			connected = 1
		}
		ch <- prometheus.MustNewConstMetric(c.controllerConnected, prometheus.GaugeValue, connected)
		ch <- prometheus.MustNewConstMetric(c.controllerMessagesTotal, prometheus.CounterValue, float64(t.Stats().Messages.Load()))
	}
}

func (c *sppCollector) collectTopology(ch chan<- prometheus.Metric) {
	top := c.cfg.State.Published()
	counts := make(map[string]int)
	for _, core := range top.Cores {
		ch <- prometheus.MustNewConstMetric(c.coreStatus, prometheus.GaugeValue, 1,
			strconv.Itoa(core.ID), core.Status.String())
		for _, comp := range core.Components {
			counts[comp.Type.String()]++
		}
	}
	for typ, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.components, prometheus.GaugeValue, float64(n), typ)
	}
}
