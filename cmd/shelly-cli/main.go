// Command shelly-cli is the external collaborator CLI client described
// in spec.md §6: it sends a Request over UDP, retransmits if no ACK
// arrives within ~5s, waits up to ~120s for the Response, and prints its
// content. Grounded on original_source/src/bin/shelly-cli.rs's
// retry/timeout semantics and the teacher's cmd/cli/main.go cobra
// structure.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shelly-agent/shelly/internal/codec"
)

const (
	cliName    = "shelly-cli"
	cliVersion = "0.1.0"

	ackTimeout      = 5 * time.Second
	responseTimeout = 120 * time.Second
	maxRetries      = 3
)

func main() {
	var target string

	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "Shelly daemon CLI client",
		Long:  "shelly-cli sends line-delimited requests to a running shellyd instance over UDP and prints its responses.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(target)
		},
	}
	rootCmd.Flags().StringVarP(&target, "target", "t", "127.0.0.1:7777", "daemon address")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "send [message]",
		Short: "send a single message and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(target)
			if err != nil {
				return err
			}
			defer client.Close()
			return client.sendAndPrint(joinArgs(args))
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

// client holds the UDP socket and a per-process incrementing sequence
// number, mirroring shelly-cli.rs's Client struct (minus the readline
// history, which is an interactive-editing concern the cobra-based
// client delegates to bufio.Scanner).
type client struct {
	conn *net.UDPConn
	addr *net.UDPAddr
	seq  uint32
}

func newClient(target string) (*client, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("resolve target: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &client{conn: conn, addr: addr, seq: 1}, nil
}

func (c *client) Close() error { return c.conn.Close() }

// sendAndPrint sends content at most maxRetries times in total, resending
// when no ACK arrives within ackTimeout or no Response arrives within
// responseTimeout after the ACK, and prints the Response's content.
func (c *client) sendAndPrint(content string) error {
	seq := c.seq
	c.seq++

	pkt, err := codec.EncodeRequest(seq, content)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		if _, err := c.conn.Write(pkt); err != nil {
			return fmt.Errorf("send: %w", err)
		}

		if !c.waitForAck(seq) {
			fmt.Fprintln(os.Stderr, "[warning] no ack, retrying...")
			continue
		}

		content, isError, err := c.waitForResponse(seq)
		if err != nil {
			fmt.Fprintln(os.Stderr, "[warning] response timeout, retrying...")
			continue
		}
		if isError {
			fmt.Printf("[error] %s\n", content)
		} else {
			fmt.Println(content)
		}
		return nil
	}
	return fmt.Errorf("shelly not responding")
}

func (c *client) waitForAck(seq uint32) bool {
	buf := make([]byte, 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(ackTimeout))
	n, err := c.conn.Read(buf)
	if err != nil {
		return false
	}
	typ, gotSeq, err := codec.DecodeHeader(buf[:n])
	if err != nil {
		return false
	}
	return typ == codec.PacketRequestAck && gotSeq == seq
}

func (c *client) waitForResponse(seq uint32) (string, bool, error) {
	buf := make([]byte, codec.HeaderSize+codec.MaxPayloadBytes+1)
	_ = c.conn.SetReadDeadline(time.Now().Add(responseTimeout))
	n, err := c.conn.Read(buf)
	if err != nil {
		return "", false, fmt.Errorf("response timeout: %w", err)
	}
	typ, gotSeq, err := codec.DecodeHeader(buf[:n])
	if err != nil {
		return "", false, err
	}
	if typ != codec.PacketResponse || gotSeq != seq {
		return "", false, fmt.Errorf("unexpected packet type=%v seq=%d", typ, gotSeq)
	}
	payload, err := codec.DecodeResponse(buf[codec.HeaderSize:n])
	if err != nil {
		return "", false, err
	}
	return payload.Content, payload.IsError, nil
}

// runREPL is the default, no-subcommand interactive mode: read lines
// from stdin, send each as a request, print the response.
func runREPL(target string) error {
	client, err := newClient(target)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("%s v%s\n", cliName, cliVersion)
	fmt.Printf("Target: %s\n", target)
	fmt.Println("Type your message and press Enter. Ctrl+D to quit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), codec.MaxPayloadBytes)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := client.sendAndPrint(line); err != nil {
			fmt.Printf("[error] %v\n", err)
		}
	}
	fmt.Println("\nGoodbye!")
	return nil
}
