package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/threema-ch/servconn/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	EventsByProtocol  map[log.Protocol]int
	Connections       map[string]*ConnectionStats
	Errors            int
	CloseErrors       int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single connection attempt.
type ConnectionStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	Protocol   log.Protocol
	RemoteAddr string
	Identity   string
	LoggedIn   bool

	// Echo round trip times seen on this connection.
	Echoes   int
	TotalRTT time.Duration
	MaxRTT   time.Duration
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		EventsByProtocol:  make(map[log.Protocol]int),
		Connections:       make(map[string]*ConnectionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++
	s.EventsByProtocol[event.Protocol]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
			Protocol:  event.Protocol,
		}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if event.RemoteAddr != "" && conn.RemoteAddr == "" {
		conn.RemoteAddr = event.RemoteAddr
	}
	if event.Identity != "" && conn.Identity == "" {
		conn.Identity = event.Identity
	}
	if sc := event.StateChange; sc != nil && sc.Entity == log.StateEntityConnection && sc.NewState == "LOGGEDIN" {
		conn.LoggedIn = true
	}
	if c := event.ControlMsg; c != nil {
		if c.Type == log.ControlMsgEchoResponse && c.RTT != nil {
			conn.Echoes++
			conn.TotalRTT += *c.RTT
			if *c.RTT > conn.MaxRTT {
				conn.MaxRTT = *c.RTT
			}
		}
		if c.Type == log.ControlMsgCloseError {
			s.CloseErrors++
		}
	}

	if event.Error != nil {
		s.Errors++
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Server Connection Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Protocol:")
	for _, p := range []log.Protocol{log.ProtocolCSP, log.ProtocolD2M} {
		if count := stats.EventsByProtocol[p]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", p.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{
		log.LayerSocket, log.LayerFrame, log.LayerMultiplex, log.LayerAuth,
		log.LayerMonitoring, log.LayerEndToEnd, log.LayerConnection,
	} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		// Sort by first seen time
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w, "")
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %s %d events, duration %s\n", shortenConnID(c.id), c.stats.Protocol, c.stats.Events, duration)
			if c.stats.RemoteAddr != "" {
				fmt.Fprintf(w, "           Server: %s\n", c.stats.RemoteAddr)
			}
			if c.stats.Identity != "" {
				fmt.Fprintf(w, "           Identity: %s\n", c.stats.Identity)
			}
			if c.stats.LoggedIn {
				fmt.Fprintln(w, "           Logged in")
			}
			if c.stats.Echoes > 0 {
				avg := c.stats.TotalRTT / time.Duration(c.stats.Echoes)
				fmt.Fprintf(w, "           Echoes: %d (avg %s, max %s)\n",
					c.stats.Echoes, formatDuration(avg), formatDuration(c.stats.MaxRTT))
			}
		}
	}

	if stats.CloseErrors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Close errors: %d\n", stats.CloseErrors)
	}
	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
