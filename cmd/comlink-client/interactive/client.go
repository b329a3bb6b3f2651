// Package interactive provides the interactive command-line interface
// for the Comlink client.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/comlink-protocol/comlink-go/pkg/service"
	"github.com/comlink-protocol/comlink-go/pkg/transport"
	"github.com/comlink-protocol/comlink-go/pkg/wire"
)

// Client handles interactive mode for comlink-client.
type Client struct {
	svc *service.ClientService
	rl  *readline.Instance
}

// New creates a new interactive client handler. Commands arriving from
// the server are printed above the prompt.
func New(svc *service.ClientService) (*Client, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "comlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := &Client{
		svc: svc,
		rl:  rl,
	}

	svc.OnCommand(c.handleCommand)
	svc.OnDisconnect(c.handleDisconnect)

	return c, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Client) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (c *Client) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run starts the interactive command loop.
func (c *Client) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

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
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "send", "s":
			c.cmdSend(args)

		case "ping":
			c.cmdExecute("ping", args)

		case "echo":
			c.cmdExecute("echo", args)

		case "time":
			c.cmdExecute("time", nil)

		case "status":
			c.cmdStatus()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Client) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Comlink Client Commands:
  Messaging:
    send <name> [args...] - Send a command to the server
    ping [args...]        - Send ping, the server answers pong
    echo <text...>        - Ask the server to echo the arguments
    time                  - Ask for the server time

  General:
    status             - Show connection status
    help               - Show this help
    quit               - Exit client

  Replies from the server are printed above the prompt as they arrive.`)
}

// cmdSend handles the send command.
func (c *Client) cmdSend(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: send <name> [args...]")
		fmt.Fprintln(c.rl.Stdout(), "  Example: send status battery 87")
		return
	}
	c.cmdExecute(args[0], args[1:])
}

// cmdExecute sends a named command to the server.
func (c *Client) cmdExecute(name string, args []string) {
	if err := c.svc.Execute(name, args...); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "-> %s\n", wire.Command{Name: name, Args: args})
}

// cmdStatus handles the status command.
func (c *Client) cmdStatus() {
	fmt.Fprintf(c.rl.Stdout(), "State: %s\n", c.svc.State())

	if conn := c.svc.Conn(); conn != nil {
		fmt.Fprintf(c.rl.Stdout(), "Server: %s\n", conn.RemoteAddr())
		fmt.Fprintf(c.rl.Stdout(), "Trace ID: %s\n", conn.TraceID())
	}

	if fp := c.svc.ServerFingerprint(); fp != "" {
		fmt.Fprintf(c.rl.Stdout(), "Server key: %s\n", fp)
	}
}

// handleCommand prints commands pushed by the server.
func (c *Client) handleCommand(conn *transport.Conn, cmd wire.Command) {
	fmt.Fprintf(c.rl.Stdout(), "<- %s\n", cmd)
}

// handleDisconnect reports a dropped connection.
func (c *Client) handleDisconnect(conn *transport.Conn, err error) {
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Connection closed: %v\n", err)
		return
	}
	fmt.Fprintln(c.rl.Stdout(), "Connection closed")
}
