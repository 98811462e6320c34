// Command bridgectl is the operator CLI for a bridge deployment: device
// administration, relay health, and a reference multi-transport client.
package main

import (
	"fmt"
	"os"

	"github.com/editorbridge/bridge/tool/bridgectl/common"
)

func main() {
	if err := common.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "bridgectl:", err)
		os.Exit(1)
	}
}
