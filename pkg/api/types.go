package api

import "time"

// Envelope wraps every JSON body except /api/v1/status and the command
// endpoint, which return the controller response documents unchanged.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Health is the /health body.
type Health struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	ClientID  int    `json:"client_id"`
	Process   string `json:"process_type"`
	Connected bool   `json:"controller_connected"`
}

// PortStats is one opened port in /api/v1/ports.
type PortStats struct {
	Port      string `json:"port"`
	Dev       int    `json:"dev"`
	RxPackets uint64 `json:"rx_packets"`
	RxBytes   uint64 `json:"rx_bytes"`
	TxPackets uint64 `json:"tx_packets"`
	TxBytes   uint64 `json:"tx_bytes"`
	TxDrops   uint64 `json:"tx_drops"`
}

// HistoryItem is one commit in /api/v1/history.
type HistoryItem struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
}
