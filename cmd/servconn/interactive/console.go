// Package interactive provides the interactive command-line interface
// for servconn.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/threema-ch/servconn/pkg/connection"
	"github.com/threema-ch/servconn/pkg/layer"
)

// Connection is the connection controlled by the console.
type Connection interface {
	connection.ServerConnection

	// Convert switches between the CSP and the mediator connection.
	Convert(multiDevice bool) error
	IsMultiDevice() bool
	Current() connection.ServerConnection
}

// stats is implemented by the CSP and the D2M connection.
type stats interface {
	ReconnectAttempts() int
	Monitoring() layer.MonitoringSnapshot
}

// Console handles interactive mode for servconn.
type Console struct {
	conn Connection
	out  io.Writer
	rl   *readline.Instance
}

// New creates a console reading from the terminal.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "servconn> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, conn Connection) {
	defer c.rl.Close()
	c.conn = conn

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.Execute(line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line. It returns false when the console should
// exit.
func (c *Console) Execute(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "status", "s":
		c.cmdStatus()

	case "start":
		c.cmdStart()

	case "stop":
		c.conn.Stop()
		fmt.Fprintln(c.out, "Connection stopped")

	case "restart":
		c.cmdRestart(args)

	case "echo-stats", "echo":
		c.cmdEchoStats()

	case "md":
		c.cmdMultiDevice(args)

	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
servconn Commands:
  Connection:
    status             - Show connection state
    start              - Start connecting
    stop               - Stop the connection
    restart [ms]       - Reconnect after a delay (default 0)
    md on|off          - Switch between mediator and chat server connection

  Monitoring:
    echo-stats         - Show echo sequence numbers and round trip time

  General:
    help               - Show this help
    quit               - Exit`)
}

func (c *Console) cmdStatus() {
	mode := "csp"
	if c.conn.IsMultiDevice() {
		mode = "d2m"
	}
	fmt.Fprintf(c.out, "State:       %s\n", c.conn.State())
	fmt.Fprintf(c.out, "Mode:        %s\n", mode)
	fmt.Fprintf(c.out, "Running:     %t\n", c.conn.IsRunning())
	fmt.Fprintf(c.out, "New session: %t\n", c.conn.IsNewConnectionSession())
	if s, ok := c.conn.Current().(stats); ok {
		fmt.Fprintf(c.out, "Reconnects:  %d\n", s.ReconnectAttempts())
	}
}

func (c *Console) cmdStart() {
	if err := c.conn.Start(); err != nil {
		fmt.Fprintf(c.out, "Start failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Connection started")
}

func (c *Console) cmdRestart(args []string) {
	var delay time.Duration
	if len(args) > 0 {
		ms, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			fmt.Fprintf(c.out, "Invalid delay: %s\n", args[0])
			return
		}
		delay = time.Duration(ms) * time.Millisecond
	}
	if err := c.conn.RestartConnection(delay); err != nil {
		fmt.Fprintf(c.out, "Restart failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Restarting in %v\n", delay)
}

func (c *Console) cmdEchoStats() {
	s, ok := c.conn.Current().(stats)
	if !ok {
		fmt.Fprintln(c.out, "No echo statistics available")
		return
	}
	snap := s.Monitoring()
	fmt.Fprintf(c.out, "Last sent echo:     %d\n", snap.LastSentEchoSeq)
	fmt.Fprintf(c.out, "Last received echo: %d\n", snap.LastRcvdEchoSeq)
	fmt.Fprintf(c.out, "Last RTT:           %v\n", snap.LastRTT)
	fmt.Fprintf(c.out, "Another connection: %d\n", snap.AnotherConnectionCount)
}

func (c *Console) cmdMultiDevice(args []string) {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		fmt.Fprintln(c.out, "Usage: md on|off")
		return
	}
	if err := c.conn.Convert(args[0] == "on"); err != nil {
		fmt.Fprintf(c.out, "Switching failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Multi-device: %s\n", args[0])
}
