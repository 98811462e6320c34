// Command bridge runs the editor-host process: the local WebSocket server,
// the embedded room relay, the optional tunnel, and every command handler,
// all wired from one configuration.
package main

import (
	"fmt"
	"os"

	"github.com/editorbridge/bridge/tool/bridge/common"
)

func main() {
	if err := common.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "bridge:", err)
		os.Exit(1)
	}
}
