// Package qrcode encodes and validates the pairing QR payload (spec.md §6):
// a compact JSON blob carrying the pairing secret, workspace identity, and
// at least one of a local or relay URL the mobile client can dial.
package qrcode

import (
	"encoding/json"
	"time"

	"github.com/gravitational/trace"
)

// CurrentVersion is the only payload version this bridge issues or accepts.
const CurrentVersion = 1

// Payload is the QR code's decoded JSON shape. Field names are the
// single-letter wire names spec.md §6 specifies directly; JSON tags are not
// renamed for readability since the wire format itself is the contract.
type Payload struct {
	Secret        string `json:"t"`
	WorkspaceID   string `json:"w"`
	WorkspaceName string `json:"n"`
	LocalURL      string `json:"l,omitempty"`
	RelayURL      string `json:"r,omitempty"`
	ExpiresAtMS   int64  `json:"e"`
	Version       int    `json:"v"`
}

// New builds a Payload for secret/workspace bound to expiresAt, requiring at
// least one of localURL/relayURL to be non-empty.
func New(secret, workspaceID, workspaceName, localURL, relayURL string, expiresAt time.Time) (*Payload, error) {
	if localURL == "" && relayURL == "" {
		return nil, trace.BadParameter("qrcode: at least one of localURL or relayURL is required")
	}
	return &Payload{
		Secret:        secret,
		WorkspaceID:   workspaceID,
		WorkspaceName: workspaceName,
		LocalURL:      localURL,
		RelayURL:      relayURL,
		ExpiresAtMS:   expiresAt.UnixMilli(),
		Version:       CurrentVersion,
	}, nil
}

// Encode serializes p to its wire JSON form.
func Encode(p *Payload) ([]byte, error) {
	buf, err := json.Marshal(p)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return buf, nil
}

// Decode parses and validates buf, rejecting a wrong version, an expired
// payload, or a payload with neither URL set (spec.md §6 "Consumers MUST").
func Decode(buf []byte, now time.Time) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(buf, &p); err != nil {
		return nil, trace.BadParameter("malformed qr payload: %v", err)
	}
	if err := Validate(&p, now); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate applies the three consumer-side rules spec.md §6 requires,
// independent of how the Payload was obtained.
func Validate(p *Payload, now time.Time) error {
	if p.Version != CurrentVersion {
		return trace.BadParameter("qrcode: unsupported version %d", p.Version)
	}
	if now.UnixMilli() > p.ExpiresAtMS {
		return trace.BadParameter("qrcode: payload expired")
	}
	if p.LocalURL == "" && p.RelayURL == "" {
		return trace.BadParameter("qrcode: payload has neither a local nor a relay URL")
	}
	return nil
}
