package device

import (
	"context"
	"sync"
	"time"

	"bluelab/internal/sshconn"

	"golang.org/x/crypto/ssh"
)

// SSHDialer logs in to boxes as User with the per-box key.
type SSHDialer struct {
	User           string
	KnownHostsPath string
	Timeout        time.Duration // connect timeout and per-command bound
}

func (d SSHDialer) Dial(ctx context.Context, addr, keyPath string) (Session, error) {
	client, err := sshconn.Dial(ctx, addr, sshconn.Options{
		User:           d.User,
		KeyPath:        keyPath,
		KnownHostsPath: d.KnownHostsPath,
		Timeout:        d.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &sshSession{client: client, timeout: d.Timeout}, nil
}

type sshSession struct {
	client  *ssh.Client
	timeout time.Duration

	mu      sync.Mutex
	started []*ssh.Session
}

func (s *sshSession) Start(cmd string) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return err
	}
	if err := sess.Start(cmd); err != nil {
		sess.Close()
		return err
	}
	s.mu.Lock()
	s.started = append(s.started, sess)
	s.mu.Unlock()
	return nil
}

func (s *sshSession) Output(ctx context.Context, cmd string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.Output(cmd)
		done <- result{out, err}
	}()
	select {
	case r := <-done:
		return string(r.out), r.err
	case <-ctx.Done():
		sess.Close()
		return "", ctx.Err()
	}
}

// Close drops the connection. Commands started with Start may be cut off,
// which is expected for reboot.
func (s *sshSession) Close() error {
	s.mu.Lock()
	for _, sess := range s.started {
		sess.Close()
	}
	s.started = nil
	s.mu.Unlock()
	return s.client.Close()
}
