// Command genkey generates a pre-shared key for securechat's psk
// transport and writes it base64-encoded to a key file.
package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"

	"github.com/securechat-io/securechat/pkg/transport"
)

func main() {
	out := flag.String("out", "securechat.key", "path to write the key file")
	force := flag.Bool("force", false, "overwrite an existing key file")
	flag.Parse()

	if !*force {
		if _, err := os.Stat(*out); err == nil {
			fmt.Fprintf(os.Stderr, "refusing to overwrite %s (use -force)\n", *out)
			os.Exit(1)
		}
	}

	key, err := transport.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}
	if err := transport.WriteKeyFile(*out, key); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
		os.Exit(1)
	}

	fmt.Printf("wrote %d-byte key to %s\n", len(key), *out)
	fmt.Printf("key: %s\n", base64.StdEncoding.EncodeToString(key))
	fmt.Println("distribute the key file to every client over a secure channel")
}
