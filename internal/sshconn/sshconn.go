// Package sshconn builds SSH client connections for the staging server and
// the lab devices. Host keys are checked against a known_hosts file.
package sshconn

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultPort = "22"

type Options struct {
	User           string
	KeyPath        string
	KnownHostsPath string
	Timeout        time.Duration
}

// ClientConfig loads the private key and known_hosts file named by opts.
func ClientConfig(opts Options) (*ssh.ClientConfig, error) {
	pem, err := os.ReadFile(opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", opts.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", opts.KeyPath, err)
	}
	hostKeys, err := knownhosts.New(opts.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", opts.KnownHostsPath, err)
	}
	return &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         opts.Timeout,
	}, nil
}

// Dial opens an SSH client to addr, adding port 22 when addr has none. The
// TCP dial honours ctx; the handshake is bounded by the config timeout.
func Dial(ctx context.Context, addr string, opts Options) (*ssh.Client, error) {
	cfg, err := ClientConfig(opts)
	if err != nil {
		return nil, err
	}
	addr = WithDefaultPort(addr)

	d := net.Dialer{Timeout: opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(opts.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func WithDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defaultPort)
}
