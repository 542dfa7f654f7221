// Command servconn-log is a tool for viewing and analyzing servconn protocol
// log files.
//
// Log files are created by servconn with the -protocol-log flag.
//
// Usage:
//
//	servconn-log <command> [flags] <file.log>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSON or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View all events
//	servconn-log view servconn.log
//
//	# View only layer 4 events of the mediator connection
//	servconn-log view --layer monitoring --protocol d2m servconn.log
//
//	# Export to JSONL
//	servconn-log export --format jsonl servconn.log
//
//	# Keep one connection attempt
//	servconn-log filter --conn-id abc12345 -o attempt.log servconn.log
//
//	# Show statistics
//	servconn-log stats servconn.log
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/threema-ch/servconn/cmd/servconn-log/commands"
)

const usage = `servconn-log - Server Connection Log Analyzer

Usage:
  servconn-log <command> [flags] <file.log>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSON or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "servconn-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// parseWithFile parses the flags and returns the log file argument.
func parseWithFile(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func usageFor(fs *flag.FlagSet, title, synopsis string) {
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\nUsage:\n  %s\n\nFlags:\n", title, synopsis)
		fs.PrintDefaults()
	}
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	usageFor(fs, "servconn-log view - View log file in human-readable format", "servconn-log view [flags] <file.log>")

	layer := fs.String("layer", "", "Filter by layer (socket, frame, multiplex, auth, monitoring, end-to-end, connection)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, control, state, error)")
	protocol := fs.String("protocol", "", "Filter by protocol (csp, d2m)")

	path := parseWithFile(fs, args)

	var filter commands.ViewFilter
	if *layer != "" {
		l, err := commands.ParseLayerFlag(*layer)
		if err != nil {
			fail(err)
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirectionFlag(*direction)
		if err != nil {
			fail(err)
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategoryFlag(*category)
		if err != nil {
			fail(err)
		}
		filter.Category = &c
	}
	if *protocol != "" {
		p, err := commands.ParseProtocolFlag(*protocol)
		if err != nil {
			fail(err)
		}
		filter.Protocol = &p
	}

	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	usageFor(fs, "servconn-log export - Export log file to JSON or CSV format", "servconn-log export [flags] <file.log>")

	var opts commands.ExportOptions
	fs.StringVar(&opts.Format, "format", "jsonl", "Output format (jsonl, csv)")
	fs.StringVar(&opts.Output, "o", "", "Output file (default: stdout)")
	fs.StringVar(&opts.ConnID, "conn-id", "", "Export only attempts whose ID starts with this prefix")

	path := parseWithFile(fs, args)

	count, err := commands.RunExport(path, opts)
	if err != nil {
		fail(err)
	}
	if opts.Output != "" {
		fmt.Printf("Exported %d events to %s\n", count, opts.Output)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	usageFor(fs, "servconn-log filter - Filter log file and write to new file", "servconn-log filter [flags] <file.log>")

	var opts commands.FilterOptions
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID or an ID prefix")
	fs.StringVar(&opts.Identity, "identity", "", "Filter by Threema ID")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error)")
	fs.StringVar(&opts.Protocol, "protocol", "", "Filter by protocol (csp, d2m)")

	path := parseWithFile(fs, args)

	if opts.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	count, err := commands.RunFilter(path, opts)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", count, opts.Output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	usageFor(fs, "servconn-log stats - Show statistics about the log file", "servconn-log stats <file.log>")

	path := parseWithFile(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
