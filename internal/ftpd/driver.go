package ftpd

import (
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"net"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/spf13/afero"
)

// Idle connections are dropped after this many seconds. The daemon lives
// for a single task, so anything beyond the transfer itself is stale.
const idleTimeoutSeconds = 900

type account struct {
	secret string
	fs     afero.Fs
}

// driver implements ftpserver.MainDriver for the three fixed identities.
// Path validation is intentionally permissive below each account root: the
// server is single-tenant and short-lived, and every path an identity can
// reach under its root is fair game.
type driver struct {
	publicHost string
	listener   net.Listener
	accounts   map[string]account
}

func newDriver(m Manifest, ln net.Listener) *driver {
	accounts := make(map[string]account, len(m.Accounts))
	for _, a := range m.Accounts {
		fs := afero.Fs(afero.NewBasePathFs(afero.NewOsFs(), a.Root))
		if a.ReadOnly {
			fs = afero.NewReadOnlyFs(fs)
		}
		accounts[a.User] = account{secret: a.Secret, fs: fs}
	}
	return &driver{
		publicHost: m.PublicHost,
		listener:   ln,
		accounts:   accounts,
	}
}

func (d *driver) GetSettings() (*ftpserver.Settings, error) {
	return &ftpserver.Settings{
		Listener:    d.listener,
		PublicHost:  d.publicHost,
		IdleTimeout: idleTimeoutSeconds,
		// The backend's FTP client forgets the kind of an input file and
		// tries listing a file as a directory, so the machine-listing
		// commands must not be offered at all.
		DisableMLSD: true,
		DisableMLST: true,
	}, nil
}

func (d *driver) ClientConnected(_ ftpserver.ClientContext) (string, error) {
	return "docker-tes-proxy volume server", nil
}

func (d *driver) ClientDisconnected(_ ftpserver.ClientContext) {}

func (d *driver) AuthUser(_ ftpserver.ClientContext, user, pass string) (ftpserver.ClientDriver, error) {
	acc, ok := d.accounts[user]
	if !ok || subtle.ConstantTimeCompare([]byte(acc.secret), []byte(pass)) != 1 {
		return nil, errors.New("authentication failed")
	}
	return acc.fs, nil
}

func (d *driver) GetTLSConfig() (*tls.Config, error) {
	return nil, errors.New("TLS is not configured")
}
