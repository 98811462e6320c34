// Command bridge-relay runs the optional standalone durable relay: the
// Relay HTTP control-plane API backed by Redis, for always-on deployments
// in front of many editor hosts.
package main

import (
	"fmt"
	"os"

	"github.com/editorbridge/bridge/tool/bridge-relay/common"
)

func main() {
	if err := common.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "bridge-relay:", err)
		os.Exit(1)
	}
}
