package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxCommandBody bounds a POSTed command request.
const maxCommandBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Envelope{Success: false, Error: msg})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	h := Health{
		Status: "ok",
		Uptime: time.Since(s.startTime).Truncate(time.Second).String(),
	}
	if st := s.cfg.State; st != nil {
		h.ClientID = st.ClientID()
		h.Process = st.Process().String()
	}
	if s.cfg.Transport != nil {
		h.Connected = s.cfg.Transport.Stats().Connected.Load()
	}
	writeOK(w, h)
}

// statusHandler returns the same document as the "status" command's info.
func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner not available")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Runner.Info())
}

// statusStreamHandler pushes the status document as server-sent events
// whenever it changes.
func (s *Server) statusStreamHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner not available")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()
	var last []byte
	var seq uint64
	for {
		data, err := json.Marshal(s.cfg.Runner.Info())
		if err != nil {
			return
		}
		if !bytes.Equal(data, last) {
			seq++
			fmt.Fprintf(w, "id: %d\nevent: status\ndata: %s\n\n", seq, data)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			last = data
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) portsHandler(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Ports == nil {
		writeError(w, http.StatusServiceUnavailable, "port manager not available")
		return
	}
	out := []PortStats{}
	for _, h := range s.cfg.Ports.Handles() {
		out = append(out, PortStats{
			Port:      h.ID.String(),
			Dev:       h.DevID,
			RxPackets: h.Stats.RxPackets.Load(),
			RxBytes:   h.Stats.RxBytes.Load(),
			TxPackets: h.Stats.TxPackets.Load(),
			TxBytes:   h.Stats.TxBytes.Load(),
			TxDrops:   h.Stats.TxDrops.Load(),
		})
	}
	writeOK(w, out)
}

func (s *Server) historyHandler(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "history not available")
		return
	}
	out := []HistoryItem{}
	for _, e := range s.cfg.Store.List() {
		out = append(out, HistoryItem{Seq: e.Seq, Timestamp: e.Timestamp, Command: e.Command})
	}
	writeOK(w, out)
}

// compareHandler diffs commit ?n= (0 is the latest) against its predecessor.
func (s *Server) compareHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "history not available")
		return
	}
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		var err error
		if n, err = strconv.Atoi(v); err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
	}
	diff, err := s.cfg.Store.Compare(n)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeOK(w, map[string]string{"diff": diff})
}

// commandHandler runs the request body through the runner and returns the
// controller response document.
func (s *Server) commandHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner not available")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body) > maxCommandBody {
		writeError(w, http.StatusRequestEntityTooLarge, "command request too large")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Runner.Execute(string(body)))
}
