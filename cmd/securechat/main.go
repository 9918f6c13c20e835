// Command securechat is the terminal chat client.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/securechat-io/securechat/pkg/client"
	"github.com/securechat-io/securechat/pkg/transport"
)

func main() {
	addr := flag.String("server", "tls://localhost:9090", "server address (tls://, psk://, ws:// or wss://)")
	name := flag.String("name", "", "username to claim")
	keyFile := flag.String("key", "", "pre-shared key file (required for psk://)")
	insecure := flag.Bool("insecure", false, "skip certificate verification (self-signed servers)")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "a username is required (-name)")
		os.Exit(1)
	}

	opts := client.Options{Insecure: *insecure}
	if *keyFile != "" {
		key, err := transport.LoadKey(*keyFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load key: %v\n", err)
			os.Exit(1)
		}
		opts.Key = key
	}

	conn, err := client.Dial(*addr, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := conn.Handshake(*name); err != nil {
		var authErr *client.AuthError
		if errors.As(err, &authErr) {
			fmt.Fprintf(os.Stderr, "%s\n", authErr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "handshake: %v\n", err)
		}
		os.Exit(1)
	}
	conn.Start()

	p := tea.NewProgram(newChatModel(conn), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ui: %v\n", err)
		os.Exit(1)
	}
}
