package logging

import (
	"fmt"
	"net"
	"os"
	"time"
)

// Syslog severities (RFC 3164).
const (
	SeverityError   = 3
	SeverityWarning = 4
	SeverityInfo    = 6
	SeverityDebug   = 7
)

// facilityLocal0 is the facility every record is sent with.
const facilityLocal0 = 16

// SyslogClient sends RFC 3164 messages over UDP.
type SyslogClient struct {
	conn     net.Conn
	hostname string
	tag      string
	// MaxSeverity drops records less severe than it; 0 sends everything.
	MaxSeverity int
}

// DialSyslog connects to a syslog collector at addr ("host:port"). tag is
// the program name stamped on every message.
func DialSyslog(addr, tag string) (*SyslogClient, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial syslog %s: %w", addr, err)
	}
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "spp"
	}
	return &SyslogClient{conn: conn, hostname: hostname, tag: fmt.Sprintf("%s[%d]", tag, os.Getpid())}, nil
}

// Send writes one message.
func (s *SyslogClient) Send(severity int, msg string) error {
	_, err := s.conn.Write([]byte(s.format(time.Now(), severity, msg)))
	return err
}

func (s *SyslogClient) format(ts time.Time, severity int, msg string) string {
	return fmt.Sprintf("<%d>%s %s %s: %s", facilityLocal0*8+severity, ts.Format(time.Stamp), s.hostname, s.tag, msg)
}

// Accepts reports whether severity passes the client's filter.
func (s *SyslogClient) Accepts(severity int) bool {
	return s.MaxSeverity == 0 || severity <= s.MaxSeverity
}

// Close closes the connection.
func (s *SyslogClient) Close() error { return s.conn.Close() }
