package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/vidtreonou/panamax/internal/command"
	"github.com/vidtreonou/panamax/internal/config"
)

// defaultConnectTimeout applies when the configuration leaves it unset.
const defaultConnectTimeout = 10 * time.Second

// SSH executes commands over SSH. Connections are opened on first use and
// cached per host until Close.
type SSH struct {
	cfg    config.SSHConfig
	logger *slog.Logger

	// auth is resolved once, on the first dial.
	authOnce sync.Once
	auth     []ssh.AuthMethod
	hostKey  ssh.HostKeyCallback
	authErr  error

	// dial opens a new connection; replaced in tests.
	dial func(ctx context.Context, host string) (*ssh.Client, error)

	clients map[string]*ssh.Client // host -> client
	dialing map[string]*sync.Mutex // host -> held while dialing that host
	mu      sync.RWMutex           // guards clients and dialing
}

// NewSSH returns an SSH executor using cfg for every host.
func NewSSH(cfg config.SSHConfig, logger *slog.Logger) *SSH {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	s := &SSH{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*ssh.Client),
		dialing: make(map[string]*sync.Mutex),
	}
	s.dial = s.dialSSH
	return s
}

// Execute implements Executor.
func (s *SSH) Execute(ctx context.Context, host string, cmd command.Command, opts ExecOptions) error {
	s.log(ctx, host, cmd, opts)
	err := s.run(ctx, host, cmd, nil, false)
	return applyPolicy(err, opts)
}

// Capture implements Executor.
func (s *SSH) Capture(ctx context.Context, host string, cmd command.Command, opts ExecOptions) (string, error) {
	s.log(ctx, host, cmd, opts)
	var stdout bytes.Buffer
	err := s.run(ctx, host, cmd, &stdout, false)
	return stdout.String(), applyPolicy(err, opts)
}

// Stream implements Executor.
func (s *SSH) Stream(ctx context.Context, host string, cmd command.Command, w io.Writer) error {
	s.log(ctx, host, cmd, ExecOptions{})
	err := s.run(ctx, host, cmd, w, true)
	return err
}

// Close closes every cached connection.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for host, c := range s.clients {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s: %w", host, err))
		}
		delete(s.clients, host)
	}
	return errors.Join(errs...)
}

func (s *SSH) log(ctx context.Context, host string, cmd command.Command, opts ExecOptions) {
	s.logger.Log(ctx, opts.Verbosity, "running command",
		"host", host,
		"command", cmd.Redacted(),
		"exit_policy", opts.ExitPolicy.String(),
	)
}

// run executes cmd on host. Standard output goes to stdout when non-nil.
// Standard error is kept for the CommandError and, with mergeStderr, also
// copied to stdout.
func (s *SSH) run(ctx context.Context, host string, cmd command.Command, stdout io.Writer, mergeStderr bool) error {
	client, err := s.client(ctx, host)
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		// A dead cached connection: drop it so the next call redials.
		s.forget(host, client)
		return fmt.Errorf("%w: %s: new session: %w", ErrConnectionFailed, host, err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stdout = stdout
	session.Stderr = &stderr
	if mergeStderr && stdout != nil {
		session.Stderr = io.MultiWriter(&stderr, stdout)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command.Render(cmd))
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		return ctx.Err()
	case err := <-done:
		if err == nil {
			return nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return &CommandError{
				Host:       host,
				Command:    cmd.Redacted(),
				ExitStatus: exitErr.ExitStatus(),
				Stderr:     strings.TrimSpace(stderr.String()),
			}
		}
		return fmt.Errorf("%s: %w", host, err)
	}
}

// client returns the cached connection for host, dialing it on first use.
// Dials to different hosts proceed in parallel; concurrent callers for the
// same host share one dial.
func (s *SSH) client(ctx context.Context, host string) (*ssh.Client, error) {
	if c, ok := s.cached(host); ok {
		return c, nil
	}

	hostMu := s.dialLock(host)
	hostMu.Lock()
	defer hostMu.Unlock()

	if c, ok := s.cached(host); ok {
		return c, nil
	}

	c, err := s.dial(ctx, host)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.clients[host] = c
	s.mu.Unlock()
	return c, nil
}

func (s *SSH) cached(host string) (*ssh.Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[host]
	return c, ok
}

func (s *SSH) dialLock(host string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.dialing[host]
	if !ok {
		m = &sync.Mutex{}
		s.dialing[host] = m
	}
	return m
}

func (s *SSH) forget(host string, c *ssh.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[host] == c {
		delete(s.clients, host)
		_ = c.Close()
	}
}

func (s *SSH) dialSSH(ctx context.Context, host string) (*ssh.Client, error) {
	s.authOnce.Do(func() {
		s.auth, s.authErr = authMethods(s.cfg.Keys)
		if s.authErr == nil {
			s.hostKey, s.authErr = hostKeyCallback(s.cfg.KnownHosts)
		}
	})
	if s.authErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, s.authErr)
	}

	user, addr := ParseHost(host, s.cfg.User, s.cfg.Port)
	clientCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            s.auth,
		HostKeyCallback: s.hostKey,
		Timeout:         s.cfg.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, host, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, host, err)
	}

	s.logger.Debug("connected", "host", host, "user", user, "addr", addr)
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// ParseHost splits "user@host:port" into a user and a dialable address,
// filling in defaultUser and defaultPort for the parts that are missing.
func ParseHost(host, defaultUser string, defaultPort int) (user, addr string) {
	user = defaultUser
	if i := strings.LastIndex(host, "@"); i >= 0 {
		user, host = host[:i], host[i+1:]
	}

	if h, p, err := net.SplitHostPort(host); err == nil {
		return user, net.JoinHostPort(h, p)
	}
	return user, net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(defaultPort))
}

// authMethods uses the running ssh-agent when SSH_AUTH_SOCK is set, plus
// every configured private key file.
func authMethods(keyFiles []string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	signers := make([]ssh.Signer, 0, len(keyFiles))
	for _, path := range keyFiles {
		pem, err := os.ReadFile(expandHome(path))
		if err != nil {
			return nil, fmt.Errorf("read SSH key %s: %w", path, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse SSH key %s: %w", path, err)
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if len(methods) == 0 {
		return nil, errors.New("no SSH credentials: start an ssh-agent or configure ssh.keys")
	}
	return methods, nil
}

func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(expandHome(knownHostsFile))
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", knownHostsFile, err)
	}
	return cb, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}
