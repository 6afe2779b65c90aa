package ftpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/chainguard-dev/clog"
	ftpserver "github.com/fclairamb/ftpserverlib"
)

// File descriptor numbers the worker inherits from the supervisor. 3 is
// the first ExtraFiles slot.
const (
	listenerFD = 3
	manifestFD = 4
)

// WorkerCommand is the hidden subcommand the supervisor re-execs the
// current binary with.
const WorkerCommand = "volume-server"

// InheritedWorker reconstructs the listener and manifest from the file
// descriptors the supervisor passed down. Only valid inside the worker
// process.
func InheritedWorker() (net.Listener, Manifest, error) {
	lnFile := os.NewFile(listenerFD, "ftp-listener")
	if lnFile == nil {
		return nil, Manifest{}, fmt.Errorf("listener descriptor %d was not inherited", listenerFD)
	}
	ln, err := net.FileListener(lnFile)
	if err != nil {
		return nil, Manifest{}, fmt.Errorf("reconstructing inherited listener: %w", err)
	}
	lnFile.Close()

	mFile := os.NewFile(manifestFD, "ftp-manifest")
	if mFile == nil {
		ln.Close()
		return nil, Manifest{}, fmt.Errorf("manifest descriptor %d was not inherited", manifestFD)
	}
	defer mFile.Close()

	m, err := ReadManifest(mFile)
	if err != nil {
		ln.Close()
		return nil, Manifest{}, err
	}
	return ln, m, nil
}

// Serve runs the FTP server on the given listener until the context is
// cancelled. It blocks for the lifetime of the server.
func Serve(ctx context.Context, m Manifest, ln net.Listener) error {
	log := clog.FromContext(ctx)

	server := ftpserver.NewFtpServer(newDriver(m, ln))

	go func() {
		<-ctx.Done()
		log.Info("shutting down volume server")
		server.Stop()
	}()

	log.Info("serving volumes", "addr", ln.Addr().String(), "accounts", len(m.Accounts))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("volume server: %w", err)
	}
	return nil
}
