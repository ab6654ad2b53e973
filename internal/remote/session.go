// Package remote owns the single authenticated session to the cluster
// head node. It exposes command execution, directory creation and file
// transfer with progress reporting, and detects session expiry.
//
// All operations for all jobs are serialized through one session lock so
// two automation chains never interleave traffic on the same channel.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gridlink-labs/gridlink/internal/errdefs"
	"github.com/gridlink-labs/gridlink/internal/models"
)

// ProgressFunc receives transfer progress as a percentage (0-100).
type ProgressFunc func(percent float64)

// transferChunkSize is the copy granularity between progress callbacks.
const transferChunkSize = 256 * 1024

// Options configures session establishment.
type Options struct {
	Port int // default 22
	// KnownHostsFile enables strict host key verification. Empty
	// accepts and pins whatever key the server offers first.
	KnownHostsFile string
	// CommandTimeout bounds each Execute call. Transfers are exempt:
	// an in-flight transfer always runs to completion or failure so no
	// partial file is ever left visible remotely.
	CommandTimeout time.Duration
	// DialTimeout bounds connection establishment. Default 30s.
	DialTimeout time.Duration
}

// Session is the single live connection to the remote host. A Session
// must not be copied.
type Session struct {
	info    models.SessionInfo
	timeout time.Duration

	mu      sync.Mutex // serializes all remote operations
	client  *ssh.Client
	sftpc   *sftp.Client
	expired atomic.Bool
}

// Establish authenticates to host and returns the new live session. The
// password is used for this handshake only and never retained.
func Establish(host, username, password string, opts Options) (*Session, error) {
	if host == "" || username == "" {
		return nil, &errdefs.ValidationError{Field: "session", Msg: "host and username are required"}
	}
	port := opts.Port
	if port == 0 {
		port = 22
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 30 * time.Second
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", opts.KnownHostsFile, err)
		}
		hostKeyCallback = cb
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	})
	if err != nil {
		if errdefs.HasAuthSignature(err) {
			return nil, &errdefs.AuthenticationError{Op: "establish", Err: err}
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sftpc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open sftp channel: %w", err)
	}

	return &Session{
		info: models.SessionInfo{
			Host:        host,
			Username:    username,
			ConnectedAt: time.Now(),
		},
		timeout: opts.CommandTimeout,
		client:  client,
		sftpc:   sftpc,
	}, nil
}

// Info returns a snapshot of the session's identity and liveness.
func (s *Session) Info() models.SessionInfo {
	info := s.info
	info.Expired = s.expired.Load()
	return info
}

// Expired reports whether the session has been invalidated.
func (s *Session) Expired() bool { return s.expired.Load() }

// Close tears the session down. The session is unusable afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired.Store(true)
	if s.sftpc != nil {
		s.sftpc.Close()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// guard returns an AuthenticationError if the session is expired. It
// must be called with the session lock held.
func (s *Session) guard(op string) error {
	if s.expired.Load() {
		return &errdefs.AuthenticationError{Op: op}
	}
	return nil
}

// observe inspects an operation error for signatures that mean the
// session is dead (auth failure, connection torn down). Once flipped,
// every subsequent call fails immediately until a new session is
// established; there is no silent re-authentication.
func (s *Session) observe(err error) {
	if err == nil {
		return
	}
	if errdefs.HasAuthSignature(err) || isConnectionDead(err) {
		s.expired.Store(true)
	}
}

func isConnectionDead(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	msg := err.Error()
	for _, sig := range []string{
		"connection reset",
		"broken pipe",
		"use of closed network connection",
		"connection lost",
	} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Execute runs cmd on the remote host and returns its exit code, stdout
// and stderr. Callers must quote every interpolated argument with
// ShellQuote; Execute itself never composes command lines.
func (s *Session) Execute(ctx context.Context, cmd string) (int, string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard("execute"); err != nil {
		return -1, "", "", err
	}

	sess, err := s.client.NewSession()
	if err != nil {
		s.observe(err)
		if s.expired.Load() {
			return -1, "", "", &errdefs.AuthenticationError{Op: "execute", Err: err}
		}
		return -1, "", "", fmt.Errorf("failed to open session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(cmd) }()

	var timer <-chan time.Time
	if s.timeout > 0 {
		t := time.NewTimer(s.timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err = <-done:
	case <-timer:
		sess.Close()
		<-done
		return -1, stdout.String(), stderr.String(),
			fmt.Errorf("remote command i/o timeout after %v", s.timeout)
	case <-ctx.Done():
		sess.Close()
		<-done
		return -1, stdout.String(), stderr.String(), ctx.Err()
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), stdout.String(), stderr.String(), nil
		}
		s.observe(err)
		return -1, stdout.String(), stderr.String(), fmt.Errorf("remote command failed: %w", err)
	}
	return 0, stdout.String(), stderr.String(), nil
}

// MkdirAll creates the remote directory and any missing parents. It is
// idempotent: an existing directory is success.
func (s *Session) MkdirAll(ctx context.Context, remotePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard("mkdir"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sftpc.MkdirAll(remotePath); err != nil {
		s.observe(err)
		return fmt.Errorf("mkdir %s: %w", remotePath, err)
	}
	return nil
}

// Upload copies a local file to remotePath. The transfer is atomic from
// the caller's perspective: data streams into a hidden partial file that
// is renamed over the destination only once fully written, so no partial
// file is ever visible at remotePath.
func (s *Session) Upload(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard("upload"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return &errdefs.ValidationError{Field: "input_file", Msg: fmt.Sprintf("cannot open %s: %v", localPath, err)}
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	tmp := partialName(remotePath)
	dst, err := s.sftpc.Create(tmp)
	if err != nil {
		s.observe(err)
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	if err := copyWithProgress(dst, src, fi.Size(), onProgress); err != nil {
		dst.Close()
		s.sftpc.Remove(tmp)
		s.observe(err)
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		s.sftpc.Remove(tmp)
		s.observe(err)
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}

	if err := s.sftpc.PosixRename(tmp, remotePath); err != nil {
		s.sftpc.Remove(tmp)
		s.observe(err)
		return fmt.Errorf("commit %s: %w", remotePath, err)
	}
	return nil
}

// Download copies a remote file to localPath with the same atomicity as
// Upload, on the local side.
func (s *Session) Download(ctx context.Context, remotePath, localPath string, onProgress ProgressFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard("download"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := s.sftpc.Open(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &errdefs.RemoteStateError{Op: "download", Path: remotePath, Msg: "file does not exist"}
		}
		s.observe(err)
		return fmt.Errorf("open %s: %w", remotePath, err)
	}
	defer src.Close()
	fi, err := src.Stat()
	if err != nil {
		s.observe(err)
		return fmt.Errorf("stat %s: %w", remotePath, err)
	}

	tmp := localPath + ".partial"
	dst, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	if err := copyWithProgress(dst, src, fi.Size(), onProgress); err != nil {
		dst.Close()
		os.Remove(tmp)
		s.observe(err)
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", localPath, err)
	}
	return nil
}

// ReadFile returns the contents of a small remote file.
func (s *Session) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard("read"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.sftpc.Open(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", remotePath, errdefs.ErrNotFound)
		}
		s.observe(err)
		return nil, fmt.Errorf("open %s: %w", remotePath, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		s.observe(err)
		return nil, fmt.Errorf("read %s: %w", remotePath, err)
	}
	return data, nil
}

// WriteFile writes data to a small remote file atomically.
func (s *Session) WriteFile(ctx context.Context, remotePath string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard("write"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp := partialName(remotePath)
	f, err := s.sftpc.Create(tmp)
	if err != nil {
		s.observe(err)
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.sftpc.Remove(tmp)
		s.observe(err)
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		s.sftpc.Remove(tmp)
		s.observe(err)
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := s.sftpc.PosixRename(tmp, remotePath); err != nil {
		s.sftpc.Remove(tmp)
		s.observe(err)
		return fmt.Errorf("commit %s: %w", remotePath, err)
	}
	return nil
}

// ReadDir lists a remote directory.
func (s *Session) ReadDir(ctx context.Context, remotePath string) ([]os.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard("readdir"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := s.sftpc.ReadDir(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", remotePath, errdefs.ErrNotFound)
		}
		s.observe(err)
		return nil, fmt.Errorf("readdir %s: %w", remotePath, err)
	}
	return infos, nil
}

// partialName places the in-flight temp file next to its destination so
// the final rename stays within one filesystem.
func partialName(remotePath string) string {
	dir := path.Dir(remotePath)
	return path.Join(dir, "."+path.Base(remotePath)+".partial")
}

// copyWithProgress copies src to dst in chunks, reporting percentage
// progress after each chunk. It deliberately ignores cancellation:
// cancelling mid-transfer would leave a corrupt partial file, so the
// transfer always runs to completion or failure.
func copyWithProgress(dst io.Writer, src io.Reader, total int64, onProgress ProgressFunc) error {
	if onProgress != nil {
		onProgress(0)
	}
	var written int64
	buf := make([]byte, transferChunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			written += int64(n)
			if onProgress != nil && total > 0 {
				onProgress(float64(written) / float64(total) * 100)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	if onProgress != nil {
		onProgress(100)
	}
	return nil
}
