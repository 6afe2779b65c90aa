// Package ftpd runs the ephemeral FTP endpoint that serves the volume
// roots to the TES backend. The daemon is a separate detached process: the
// supervisor side (Daemon) spawns the current binary with a hidden worker
// subcommand and hands it the pre-bound listener and a serving manifest
// over inherited file descriptors, so no credentials touch the command line
// or the disk.
package ftpd

import (
	"encoding/json"
	"fmt"
	"io"
)

// Account is one FTP identity and the root it is jailed to.
type Account struct {
	User     string `json:"user"`
	Secret   string `json:"secret"`
	Root     string `json:"root"`
	ReadOnly bool   `json:"read_only"`
}

// Manifest is everything the worker process needs to serve: the identities
// with their roots and the public name advertised for passive transfers.
type Manifest struct {
	PublicHost string    `json:"public_host"`
	Accounts   []Account `json:"accounts"`
}

// ReadManifest decodes a manifest from r, typically the inherited manifest
// pipe.
func ReadManifest(r io.Reader) (Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decoding serving manifest: %w", err)
	}
	if len(m.Accounts) == 0 {
		return Manifest{}, fmt.Errorf("serving manifest has no accounts")
	}
	return m, nil
}
