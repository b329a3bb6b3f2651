// Command comlink-log inspects Comlink protocol logs.
//
// Log files (.clog) are written by comlink-server and comlink-client
// when started with -protocol-log. They contain one CBOR-encoded event
// per protocol action: commands in both directions, key exchanges,
// connection state changes, and faults.
//
// Usage:
//
//	comlink-log <command> [flags] <file.clog>
//
// Commands:
//
//	view     Print events as readable text
//	export   Convert events to JSONL or CSV
//	filter   Copy matching events into a new .clog file
//	stats    Summarize a log file
//
// The view and filter commands share a set of filter flags; run
// "comlink-log <command> -h" for the full list.
//
// Examples:
//
//	# Everything a server logged for connection number 2
//	comlink-log view -num 2 server.clog
//
//	# Encrypted traffic only, as JSONL on stdout
//	comlink-log export -format jsonl server.clog
//
//	# Keep only handshake events for later comparison
//	comlink-log filter -category handshake -o handshakes.clog server.clog
//
//	# Quick overview
//	comlink-log stats server.clog
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/comlink-protocol/comlink-go/cmd/comlink-log/commands"
)

const usage = `comlink-log inspects Comlink protocol logs (.clog files).

Usage:
  comlink-log <command> [flags] <file.clog>

Commands:
  view     Print events as readable text
  export   Convert events to JSONL or CSV
  filter   Copy matching events into a new .clog file
  stats    Summarize a log file

Run "comlink-log <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "view":
		err = runView(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "filter":
		err = runFilter(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "help", "-h", "-help", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// filterFlags registers the filter flag set shared by view and filter.
func filterFlags(fs *flag.FlagSet) *commands.FilterOptions {
	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.Conn, "conn", "", "Only events whose trace ID matches exactly")
	fs.StringVar(&opts.Num, "num", "", "Only events of this server-side connection number")
	fs.StringVar(&opts.Command, "command", "", "Only command events with this name")
	fs.StringVar(&opts.Layer, "layer", "", "Only one layer: transport, wire, service")
	fs.StringVar(&opts.Direction, "direction", "", "Only one direction: in, out")
	fs.StringVar(&opts.Category, "category", "", "Only one category: command, handshake, state, error")
	fs.StringVar(&opts.Since, "since", "", "Only events at or after this RFC3339 time")
	fs.StringVar(&opts.Until, "until", "", "Only events before this RFC3339 time")
	return opts
}

// logPath returns the single positional .clog argument.
func logPath(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one .clog file argument")
	}
	return fs.Arg(0), nil
}

func runView(args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	opts := filterFlags(fs)
	fs.Parse(args)

	path, err := logPath(fs)
	if err != nil {
		return err
	}
	return commands.RunView(path, *opts, os.Stdout)
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	format := fs.String("format", "jsonl", "Output format: jsonl or csv")
	out := fs.String("o", "", "Write to this file instead of stdout")
	fs.Parse(args)

	path, err := logPath(fs)
	if err != nil {
		return err
	}

	w := io.Writer(os.Stdout)
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	return commands.RunExport(path, *format, w)
}

func runFilter(args []string) error {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	opts := filterFlags(fs)
	out := fs.String("o", "", "Output .clog file (required)")
	fs.Parse(args)

	if *out == "" {
		return fmt.Errorf("-o output file is required")
	}
	path, err := logPath(fs)
	if err != nil {
		return err
	}

	count, err := commands.RunFilter(path, *out, *opts)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d events to %s\n", count, *out)
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Parse(args)

	path, err := logPath(fs)
	if err != nil {
		return err
	}
	return commands.RunStats(path, os.Stdout)
}
