// Package transport opens management sessions to network devices over SSH.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"ndr-go/internal/config"
	ndrerrors "ndr-go/internal/errors"
	"ndr-go/internal/model"
	"ndr-go/internal/ndr"
)

// DefaultDialTimeout bounds connection setup when ctx has no deadline.
const DefaultDialTimeout = 15 * time.Second

// Options configures SSHSessionFactory.
type Options struct {
	Port            int
	Username        string
	Password        string
	HostKeyCallback ssh.HostKeyCallback
	DialTimeout     time.Duration
	Profiles        *Profiles
}

// SSHSessionFactory dials devices and opens SSHSessions.
type SSHSessionFactory struct {
	opts   Options
	logger ndr.Logger
}

var _ ndr.SessionFactory = (*SSHSessionFactory)(nil)

func NewSSHSessionFactory(opts Options, logger ndr.Logger) *SSHSessionFactory {
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Profiles == nil {
		opts.Profiles = NewProfiles(nil)
	}
	return &SSHSessionFactory{opts: opts, logger: logger}
}

// NewSessionFactoryFromConfig reads credentials from the environment
// variables named in cfg and resolves host key checking.
func NewSessionFactoryFromConfig(cfg config.TransportConfig, logger ndr.Logger) (*SSHSessionFactory, error) {
	username := os.Getenv(cfg.UsernameEnv)
	if username == "" {
		return nil, fmt.Errorf("device username not set (export %s)", cfg.UsernameEnv)
	}

	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	return NewSSHSessionFactory(Options{
		Port:            cfg.Port,
		Username:        username,
		Password:        os.Getenv(cfg.PasswordEnv),
		HostKeyCallback: hostKeys,
		DialTimeout:     cfg.CommandTimeout.Duration,
		Profiles:        NewProfiles(cfg.Profiles),
	}, logger), nil
}

func hostKeyCallback(cfg config.TransportConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	path := cfg.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts %s: %w", path, err)
	}
	return cb, nil
}

// address appends the configured port unless the device address has one.
func (f *SSHSessionFactory) address(device model.Device) string {
	if _, _, err := net.SplitHostPort(device.Address); err == nil {
		return device.Address
	}
	return net.JoinHostPort(device.Address, strconv.Itoa(f.opts.Port))
}

// Open dials the device and completes the SSH handshake within ctx.
func (f *SSHSessionFactory) Open(ctx context.Context, device model.Device) (ndr.DeviceSession, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.DialTimeout)
		defer cancel()
	}

	addr := f.address(device)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, transportError(device, "connect", err)
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	password := f.opts.Password
	clientCfg := &ssh.ClientConfig{
		User: f.opts.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: f.opts.HostKeyCallback,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, transportError(device, "ssh handshake", err)
	}
	_ = conn.SetDeadline(time.Time{})

	f.logger.Debug("ssh session opened", "hostname", device.Hostname, "address", addr)
	return &SSHSession{
		device:  device,
		client:  ssh.NewClient(sshConn, chans, reqs),
		profile: f.opts.Profiles.For(device.Kind),
		logger:  f.logger,
	}, nil
}

// SSHSession runs each command in its own exec channel.
type SSHSession struct {
	device  model.Device
	client  *ssh.Client
	profile Profile
	logger  ndr.Logger
}

var _ ndr.DeviceSession = (*SSHSession)(nil)

func (s *SSHSession) Capture(ctx context.Context) (string, error) {
	out, err := s.run(ctx, s.profile.CaptureCommand)
	if err != nil {
		return "", transportError(s.device, "capture", err)
	}
	return out, nil
}

// Stage uploads content as the restore candidate with scp.
func (s *SSHSession) Stage(ctx context.Context, content string) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return transportError(s.device, "stage", err)
	}
	defer sess.Close()

	stdin, err := sess.StdinPipe()
	if err != nil {
		return transportError(s.device, "stage", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return transportError(s.device, "stage", err)
	}
	var stderr bytes.Buffer
	sess.Stderr = &stderr

	if err := sess.Start("scp -t " + s.profile.CandidateTarget()); err != nil {
		return transportError(s.device, "stage", err)
	}

	err = s.await(ctx, sess, func() error {
		sendErr := scpSend(stdin, bufio.NewReader(stdout), s.profile.CandidateName, []byte(content))
		stdin.Close()
		waitErr := ignoreExitMissing(sess.Wait())
		if sendErr != nil {
			return sendErr
		}
		return waitErr
	})
	if err != nil && ctx.Err() == nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			err = fmt.Errorf("%w: %s", err, msg)
		}
	}
	if err != nil {
		return transportError(s.device, "stage", err)
	}

	s.logger.Debug("candidate staged", "hostname", s.device.Hostname, "path", s.profile.CandidatePath(), "bytes", len(content))
	return nil
}

// Apply runs the profile's replace command and returns the device output,
// which the caller inspects for rollback markers.
func (s *SSHSession) Apply(ctx context.Context) (string, error) {
	out, err := s.run(ctx, s.profile.applyCommand())
	if err != nil {
		return out, transportError(s.device, "apply", err)
	}
	return out, nil
}

func (s *SSHSession) Close() error {
	return s.client.Close()
}

func (s *SSHSession) run(ctx context.Context, cmd string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out

	err = s.await(ctx, sess, func() error {
		return ignoreExitMissing(sess.Run(cmd))
	})
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

// await runs fn and closes the channel if ctx ends first. fn may still be
// running when await returns; closing the client unblocks it.
func (s *SSHSession) await(ctx context.Context, sess *ssh.Session, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		sess.Close()
		return ctx.Err()
	}
}

// Some IOS images close exec channels without sending an exit status.
func ignoreExitMissing(err error) error {
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return nil
	}
	return err
}

func transportError(device model.Device, op string, err error) error {
	return ndrerrors.WrapWithContext(ndrerrors.ErrCodeTransport, op+" failed", err, map[string]any{
		"hostname": device.Hostname,
		"address":  device.Address,
	})
}
