// Package pcap writes LZ4-compressed libpcap capture files that rotate at a
// size limit.
//
// Each file is written under a ".tmp" suffix and renamed to its final name
// only after the LZ4 frame is closed, so a file without the suffix is
// always complete.
package pcap

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Capture file defaults.
const (
	SnapLen      = 65535
	DefaultDir   = "/tmp"
	DefaultLimit = 1 << 30
	DateLayout   = "20060102150405"
	tmpSuffix    = ".tmp"
)

// FileName returns the final name of capture file seq written by thread
// for iface (e.g. "phy0") in a capture started at date.
func FileName(date, iface string, thread, seq int) string {
	return fmt.Sprintf("spp_pcap.%s.%s.%d.%d.pcap.lz4", date, iface, thread, seq)
}

// Options configures a Writer.
type Options struct {
	Dir    string
	Limit  uint64
	Date   string
	Iface  string
	Thread int
}

// countingWriter tracks bytes that reached the file.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

// Writer is one writer thread's rotating capture output. It is not safe
// for concurrent use.
type Writer struct {
	opts Options
	seq  int

	f    *os.File
	cw   *countingWriter
	zw   *lz4.Writer
	pw   *pcapgo.Writer
	name string

	closed []string
}

// Open creates the first file of a capture.
func Open(opts Options) (*Writer, error) {
	if opts.Dir == "" {
		opts.Dir = DefaultDir
	}
	if opts.Limit == 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Date == "" {
		opts.Date = time.Now().Format(DateLayout)
	}
	w := &Writer{opts: opts}
	if err := w.openNext(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openNext() error {
	w.seq++
	w.name = FileName(w.opts.Date, w.opts.Iface, w.opts.Thread, w.seq)
	tmp := filepath.Join(w.opts.Dir, w.name+tmpSuffix)
	slog.Info("open capture file", "file", tmp)

	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create capture file")
	}
	w.f = f
	w.cw = &countingWriter{w: f}
	w.zw = lz4.NewWriter(w.cw)
	if err := w.zw.Apply(
		lz4.BlockSizeOption(lz4.Block256Kb),
		lz4.ChecksumOption(false),
	); err != nil {
		f.Close()
		return errors.Wrap(err, "lz4 options")
	}
	w.pw = pcapgo.NewWriter(w.zw)
	if err := w.pw.WriteFileHeader(SnapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return errors.Wrap(err, "write pcap header")
	}
	return nil
}

// finish closes the LZ4 frame and the file, then drops the ".tmp" suffix.
func (w *Writer) finish() error {
	if w.f == nil {
		return nil
	}
	zerr := w.zw.Close()
	ferr := w.f.Close()
	w.f = nil
	if zerr != nil {
		return errors.Wrap(zerr, "close lz4 frame")
	}
	if ferr != nil {
		return errors.Wrap(ferr, "close capture file")
	}
	final := filepath.Join(w.opts.Dir, w.name)
	if err := os.Rename(final+tmpSuffix, final); err != nil {
		return errors.Wrap(err, "rename capture file")
	}
	w.closed = append(w.closed, final)
	return nil
}

// WritePacket appends one frame, rotating first if the current file has
// passed the size limit. Frames longer than SnapLen are truncated.
func (w *Writer) WritePacket(ts time.Time, data []byte) error {
	if w.f == nil {
		return errors.New("capture file closed")
	}
	if w.cw.n > w.opts.Limit {
		if err := w.finish(); err != nil {
			return err
		}
		if err := w.openNext(); err != nil {
			return err
		}
	}
	capLen := min(len(data), SnapLen)
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: capLen,
		Length:        len(data),
	}
	return w.pw.WritePacket(ci, data[:capLen])
}

// Name returns the final name of the file being written.
func (w *Writer) Name() string { return w.name }

// Size returns the compressed bytes written to the current file.
func (w *Writer) Size() uint64 { return w.cw.n }

// Completed returns the paths of every finished file, oldest first.
func (w *Writer) Completed() []string { return w.closed }

// Close finishes the current file.
func (w *Writer) Close() error {
	return w.finish()
}
