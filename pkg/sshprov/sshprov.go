// Package sshprov provisions a freshly launched instance over SSH:
// create user/group, copy discod and its certs, write the config file,
// and start the service (spec.md §4.6 step 5). SSH transport internals
// are out of scope per spec.md §1; this package treats
// golang.org/x/crypto/ssh as the opaque remote-exec channel and only
// sequences the commands the bootstrap step names.
package sshprov

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/discoproj/disco/pkg/metrics"
)

// connectAttempts and connectInterval are spec.md §4.6's literal SSH
// retry budget: instances boot slowly, so this is generous by design.
const (
	connectAttempts = 30
	connectInterval = 2 * time.Second
	sshPort         = "22"
)

// Payload is everything ssh_install needs to copy onto the remote host.
type Payload struct {
	BinaryPath   string
	Binary       []byte
	ConfigPath   string
	Config       []byte
	CACert       []byte
	ServerCert   []byte
	ServerKey    []byte
	ClientCert   []byte
	ClientKey    []byte
	CertDir      string
	ServiceName  string
}

// Installer provisions remote hosts as a fixed SSH identity (the
// keypair whose paths cluster.set_key_pair recorded).
type Installer struct {
	user   string
	signer ssh.Signer
}

// New parses a PEM-encoded private key for user (conventionally
// "disco") to authenticate as.
func New(user string, privateKeyPEM []byte) (*Installer, error) {
	signer, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("sshprov: parse private key: %w", err)
	}
	return &Installer{user: user, signer: signer}, nil
}

// Install connects to host (retrying up to 30 times at 2s intervals,
// per spec.md §4.6 step 5) and runs the full provisioning sequence.
func (in *Installer) Install(ctx context.Context, host string, payload Payload) error {
	client, err := in.connect(ctx, host)
	if err != nil {
		return err
	}
	defer client.Close()

	group := firstNonEmpty(payload.ServiceName, "disco")
	steps := []func() error{
		func() error { return in.run(client, fmt.Sprintf("sudo useradd -r -M -s /usr/sbin/nologin %s || true", in.user)) },
		func() error { return in.run(client, fmt.Sprintf("sudo groupadd -f %s", group)) },
		func() error { return in.mkdirAll(client, payload.CertDir) },
		func() error { return in.copyFile(client, certPath(payload.CertDir, "ca.pem"), payload.CACert, "0644") },
		func() error { return in.copyFile(client, certPath(payload.CertDir, "server.pem"), payload.ServerCert, "0644") },
		func() error { return in.copyFile(client, certPath(payload.CertDir, "server.key"), payload.ServerKey, "0600") },
		func() error { return in.copyFile(client, certPath(payload.CertDir, "client.pem"), payload.ClientCert, "0644") },
		func() error { return in.copyFile(client, certPath(payload.CertDir, "client.key"), payload.ClientKey, "0600") },
		func() error { return in.copyFile(client, payload.BinaryPath, payload.Binary, "0755") },
		func() error { return in.copyFile(client, payload.ConfigPath, payload.Config, "0644") },
		func() error { return in.run(client, fmt.Sprintf("sudo systemctl enable --now %s", group)) },
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("sshprov: install on %s: %w", host, err)
		}
	}
	return nil
}

func certPath(dir, name string) string {
	if dir == "" {
		dir = "/etc/disco"
	}
	return dir + "/" + name
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// connect dials host:22, retrying connectAttempts times at
// connectInterval, recording every retry to SSHInstallRetriesTotal.
func (in *Installer) connect(ctx context.Context, host string) (*ssh.Client, error) {
	return in.connectAddr(ctx, host+":"+sshPort)
}

// connectAddr is connect generalized over the full "host:port" address,
// so tests can point it at an ephemeral listener.
func (in *Installer) connectAddr(ctx context.Context, addr string) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            in.user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(in.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	var lastErr error
	for attempt := 0; attempt < connectAttempts; attempt++ {
		client, err := ssh.Dial("tcp", addr, config)
		if err == nil {
			return client, nil
		}
		lastErr = err
		metrics.SSHInstallRetriesTotal.Inc()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectInterval):
		}
	}
	return nil, fmt.Errorf("sshprov: connect to %s: %d attempts exhausted: %w", addr, connectAttempts, lastErr)
}

// run executes cmd in a fresh session and returns an error if it exits
// non-zero, wrapping any combined output into the error for debugging.
func (in *Installer) run(client *ssh.Client, cmd string) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	out, err := session.CombinedOutput(cmd)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", cmd, err, out)
	}
	return nil
}

func (in *Installer) mkdirAll(client *ssh.Client, dir string) error {
	if dir == "" {
		dir = "/etc/disco"
	}
	return in.run(client, fmt.Sprintf("sudo mkdir -p %s", dir))
}

// copyFile streams data to remotePath over a "sudo tee path" exec
// session (there is no SFTP dependency in the pack), then chmods it in
// the same command.
func (in *Installer) copyFile(client *ssh.Client, remotePath string, data []byte, mode string) error {
	session, err := client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return err
	}

	cmd := fmt.Sprintf("sudo tee %s > /dev/null && sudo chmod %s %s", remotePath, mode, remotePath)
	if err := session.Start(cmd); err != nil {
		return err
	}

	if _, err := io.Copy(stdin, bytes.NewReader(data)); err != nil {
		stdin.Close()
		return err
	}
	if err := stdin.Close(); err != nil {
		return err
	}
	return session.Wait()
}
