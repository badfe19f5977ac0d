package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	wperr "wapair/internal/errors"
	"wapair/util"
)

const (
	defaultSSHPort    = 22
	defaultSSHTimeout = 30 * time.Second
	keepAliveRequest  = "keepalive@openssh.com"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// KeepAlive sends keepalive@openssh.com requests at this interval
	// so a gateway does not reap the session while the user is still
	// looking for their phone.  Zero disables it.
	KeepAlive time.Duration
}

func (c *SSHConfig) addr() string { return util.FormatAddr(c.Host, c.Port) }

func (c *SSHConfig) fail(op string, err error) error {
	return wperr.WrapSSH(op, c.Host, c.Port, err)
}

// link is one established SSH connection.  A tunnel replaces its link
// wholesale on reconnect, so goroutines started for an old link never
// touch the new one.
type link struct {
	client *ssh.Client
	done   chan struct{} // closed by Close or when the connection dies
	once   sync.Once
}

func (l *link) stop() { l.once.Do(func() { close(l.done) }) }

// SSHTunnel implements [Tunnel] by opening an SSH connection and
// forwarding traffic with ssh.Client.DialContext.
type SSHTunnel struct {
	config *SSHConfig
	logger *util.Logger

	mu  sync.RWMutex
	cur *link
}

// NewSSHTunnel creates a tunnel that is ready to [Connect].
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = defaultSSHPort
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = defaultSSHTimeout
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &SSHTunnel{config: cfg, logger: logger}
}

// Connect dials the SSH gateway and completes the handshake.  A live
// link from an earlier Connect is closed first.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	client, err := t.handshake(ctx)
	if err != nil {
		return err
	}

	l := &link{client: client, done: make(chan struct{})}
	t.mu.Lock()
	prev := t.cur
	t.cur = l
	t.mu.Unlock()
	if prev != nil {
		prev.stop()
		_ = prev.client.Close()
	}

	go t.watch(l)
	if t.config.KeepAlive > 0 {
		go t.keepAlive(l)
	}
	return nil
}

func (t *SSHTunnel) handshake(ctx context.Context) (*ssh.Client, error) {
	cfg := t.config
	auth, err := BuildAuthMethods(cfg)
	if err != nil {
		return nil, cfg.fail("auth", err)
	}
	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, cfg.fail("hostkey", err)
	}

	addr := cfg.addr()
	t.logger.Debug("dialing %s as %s", addr, cfg.User)

	d := net.Dialer{Timeout: cfg.ConnTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, cfg.fail("dial", err)
	}

	// The SSH handshake itself ignores ctx; bound it with the deadline.
	if dl, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(dl)
	} else {
		_ = raw.SetDeadline(time.Now().Add(cfg.ConnTimeout))
	}
	conn, chans, reqs, err := ssh.NewClientConn(raw, addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         cfg.ConnTimeout,
	})
	if err != nil {
		raw.Close()
		return nil, cfg.fail("handshake", err)
	}
	_ = raw.SetDeadline(time.Time{})

	t.logger.Verbose("SSH tunnel up via %s (server %s)", addr, conn.ServerVersion())
	return ssh.NewClient(conn, chans, reqs), nil
}

// Dial forwards a connection through the tunnel.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	l := t.live()
	if l == nil {
		return nil, wperr.ErrTunnelClosed
	}

	t.logger.Debug("forwarding %s %s", network, address)
	conn, err := l.client.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("tunnel dial %s: %w", address, err)
	}
	return conn, nil
}

// Close shuts down the SSH connection.  It is safe to call repeatedly.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	l := t.cur
	t.cur = nil
	t.mu.Unlock()

	if l == nil {
		return nil
	}
	l.stop()
	return l.client.Close()
}

// IsAlive reports whether the tunnel is still connected.
func (t *SSHTunnel) IsAlive() bool { return t.live() != nil }

func (t *SSHTunnel) live() *link {
	t.mu.RLock()
	l := t.cur
	t.mu.RUnlock()
	if l == nil {
		return nil
	}
	select {
	case <-l.done:
		return nil
	default:
		return l
	}
}

// watch waits for the connection to end and marks the link dead.
func (t *SSHTunnel) watch(l *link) {
	err := l.client.Wait()
	l.stop()
	if err != nil {
		t.logger.Debug("SSH tunnel closed: %v", err)
		return
	}
	t.logger.Debug("SSH tunnel closed")
}

func (t *SSHTunnel) keepAlive(l *link) {
	tick := time.NewTicker(t.config.KeepAlive)
	defer tick.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-tick.C:
			if _, _, err := l.client.SendRequest(keepAliveRequest, true, nil); err != nil {
				t.logger.Verbose("SSH keepalive failed: %v", err)
				l.stop()
				_ = l.client.Close()
				return
			}
		}
	}
}
