// Package components names the `trace.Component` log field values used by
// each package in the bridge, mirroring the teacher's root-level
// teleport.ComponentXXX constants.
package components

const (
	Credentials   = "credentials"
	Pairing       = "pairing"
	RateLimit     = "ratelimit"
	Protocol      = "protocol"
	WSServer      = "wsserver"
	Relay         = "relay"
	Tunnel        = "tunnel"
	Client        = "client"
	Dispatch      = "dispatch"
	Terminal      = "termstream"
	Diagnostics   = "diagnostics"
	AIBridge      = "aibridge"
	DurableRelay  = "durablerelay"
	Notify        = "notify"
	App           = "app"
)
