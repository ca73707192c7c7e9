// Command decodehex prints the eight statistics packed in a 16-byte
// aggregate payload given as 32 hex digits.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"loraclima-server/internal/modules/telemetry/codec"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <32 hex digits>\n", os.Args[0])
		os.Exit(1)
	}

	agg, err := codec.DecodeAggregateHex(strings.Join(os.Args[1:], ""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(agg); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}
