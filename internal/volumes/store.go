// Package volumes emulates docker bind mounts for a remote TES backend.
// Host paths are published under one of three isolated roots, each served
// to its own FTP identity: read-only inputs, read-write volumes, and
// write-only outputs that are copied back after the task finishes.
package volumes

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
)

// Kind selects the access mode a published path is served with.
type Kind int

const (
	ReadOnly Kind = iota
	ReadWrite
	WriteOnly
)

func (k Kind) String() string {
	switch k {
	case ReadOnly:
		return "ro"
	case ReadWrite:
		return "rw"
	case WriteOnly:
		return "wo"
	default:
		return "unknown"
	}
}

// Fixed usernames, one per access kind. Secrets are generated per store.
const (
	UserReadOnly  = "user_ro"
	UserReadWrite = "user_rw"
	UserWriteOnly = "user_wo"
)

// Credential authenticates one FTP identity. Valid only while the store
// (and the daemon serving it) is alive.
type Credential struct {
	User   string
	Secret string
}

// Store owns the three volume roots and the name-to-host-path mappings
// published under them.
type Store struct {
	publicHost string
	publicPort int

	roots map[Kind]string
	creds map[Kind]Credential

	// Write-only mappings are recorded here instead of being materialized
	// as links; Synchronize moves produced output back to the host path.
	pending map[string]string

	live bool
}

// NewStore allocates the three volume roots and generates one credential
// per kind. publicHost and publicPort are the address embedded in the URLs
// handed to the backend.
func NewStore(publicHost string, publicPort int) (*Store, error) {
	s := &Store{
		publicHost: publicHost,
		publicPort: publicPort,
		roots:      make(map[Kind]string, 3),
		creds: map[Kind]Credential{
			ReadOnly:  {User: UserReadOnly, Secret: uuid.NewString()},
			ReadWrite: {User: UserReadWrite, Secret: uuid.NewString()},
			WriteOnly: {User: UserWriteOnly, Secret: uuid.NewString()},
		},
		pending: make(map[string]string),
	}

	for _, kind := range []Kind{ReadOnly, ReadWrite, WriteOnly} {
		root, err := os.MkdirTemp("", "tes-volumes-"+kind.String()+"-*")
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating %s volume root: %w", kind, err)
		}
		s.roots[kind] = root
	}

	return s, nil
}

// Root returns the directory served for the given kind.
func (s *Store) Root(kind Kind) string {
	return s.roots[kind]
}

// Credential returns the FTP identity for the given kind.
func (s *Store) Credential(kind Kind) Credential {
	return s.creds[kind]
}

// MarkLive records that the daemon serving the roots has started. Later
// publishes still work but are not guaranteed to be visible to connected
// clients, so they produce a warning.
func (s *Store) MarkLive() {
	s.live = true
}

// Publish maps hostPath to a fresh opaque name under the root for kind and
// returns the credentialed ftp:// URL the backend can reach it at.
//
// ReadOnly and ReadWrite paths are materialized immediately as symbolic
// links. WriteOnly paths are only recorded: the backend creates the file
// under the write-only root, and Synchronize moves it to hostPath
// afterwards.
func (s *Store) Publish(ctx context.Context, kind Kind, hostPath string) (string, error) {
	log := clog.FromContext(ctx)

	if s.live {
		log.Warn("volume daemon is already running, published path may not be visible", "path", hostPath)
	}

	name := uuid.NewString()
	isDir := false

	switch kind {
	case ReadOnly, ReadWrite:
		resolved, err := filepath.EvalSymlinks(hostPath)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", hostPath, err)
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", resolved, err)
		}
		isDir = info.IsDir()
		if isDir {
			name = "dir_" + name
		} else {
			name = "file_" + name
		}
		if err := os.Symlink(resolved, filepath.Join(s.roots[kind], name)); err != nil {
			return "", fmt.Errorf("publishing %s: %w", hostPath, err)
		}

	case WriteOnly:
		abs, err := filepath.Abs(hostPath)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", hostPath, err)
		}
		s.pending[name] = abs

	default:
		return "", fmt.Errorf("unknown volume kind %d", kind)
	}

	log.Debug("published volume", "kind", kind.String(), "path", hostPath, "name", name)
	return s.url(kind, name, isDir), nil
}

func (s *Store) url(kind Kind, name string, isDir bool) string {
	cred := s.creds[kind]
	path := "/" + name
	if isDir {
		path += "/"
	}
	u := url.URL{
		Scheme: "ftp",
		User:   url.UserPassword(cred.User, cred.Secret),
		Host:   net.JoinHostPort(s.publicHost, strconv.Itoa(s.publicPort)),
		Path:   path,
	}
	return u.String()
}

// Synchronize moves output the backend produced under the write-only root
// back to the recorded host paths. Missing output is reported but does not
// fail the call; the pending map is cleared either way.
func (s *Store) Synchronize(ctx context.Context) {
	log := clog.FromContext(ctx)

	for name, hostPath := range s.pending {
		produced := filepath.Join(s.roots[WriteOnly], name)
		if _, err := os.Stat(produced); err != nil {
			log.Error("output was not produced by the backend", "name", name, "path", hostPath)
			continue
		}
		if err := moveFile(produced, hostPath); err != nil {
			log.Error("failed to move output back", "name", name, "path", hostPath, "error", err)
		}
	}

	s.pending = make(map[string]string)
}

// Close removes all volume roots. Safe to call more than once.
func (s *Store) Close() error {
	var firstErr error
	for kind, root := range s.roots {
		if err := os.RemoveAll(root); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.roots, kind)
	}
	return firstErr
}

// moveFile renames src to dst, falling back to copy-and-remove when they
// live on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("cannot move directory %s across filesystems", src)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
