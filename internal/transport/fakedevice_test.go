package transport

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// fakeDevice is an in-process SSH server that answers like a router:
// exec channels for show/configure commands and an scp sink for uploads.
type fakeDevice struct {
	mu           sync.Mutex
	config       string
	applyOutput  string
	rejectUpload bool
	noExitStatus bool
	commands     []string
	uploads      map[string][]byte

	addr    string
	hostKey ssh.PublicKey
}

func startFakeDevice(t *testing.T, dev *fakeDevice) *fakeDevice {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "admin" && string(pass) == "secret" {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied")
		},
	}
	cfg.AddHostKey(signer)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	dev.addr = l.Addr().String()
	dev.hostKey = signer.PublicKey()
	if dev.uploads == nil {
		dev.uploads = make(map[string][]byte)
	}

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go dev.serve(c, cfg)
		}
	}()
	return dev
}

func (d *fakeDevice) serve(c net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(c, cfg)
	if err != nil {
		c.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range creqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					_ = req.Reply(false, nil)
					continue
				}
				_ = req.Reply(true, nil)
				go d.exec(ch, payload.Command)
			}
		}()
	}
}

func (d *fakeDevice) exec(ch ssh.Channel, cmd string) {
	defer ch.Close()

	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	config, applyOutput, noExit := d.config, d.applyOutput, d.noExitStatus
	d.mu.Unlock()

	switch {
	case cmd == "show running-config":
		_, _ = io.WriteString(ch, config)
		if !noExit {
			exitStatus(ch, 0)
		}
	case strings.HasPrefix(cmd, "scp -t "):
		d.scpSink(ch, strings.TrimPrefix(cmd, "scp -t "))
	case strings.HasPrefix(cmd, "configure replace "):
		_, _ = io.WriteString(ch, applyOutput)
		exitStatus(ch, 0)
	case cmd == "hang":
		_, _ = io.Copy(io.Discard, ch)
	default:
		_, _ = io.WriteString(ch.Stderr(), "% Invalid input detected at '^' marker.\n")
		exitStatus(ch, 1)
	}
}

func (d *fakeDevice) scpSink(ch ssh.Channel, target string) {
	r := bufio.NewReader(ch)
	_, _ = ch.Write([]byte{0})

	header, err := r.ReadString('\n')
	if err != nil {
		return
	}
	var mode string
	var size int
	var name string
	if _, err := fmt.Sscanf(header, "C%s %d %s", &mode, &size, &name); err != nil {
		_, _ = ch.Write([]byte("\x02bad header\n"))
		exitStatus(ch, 1)
		return
	}

	d.mu.Lock()
	reject := d.rejectUpload
	d.mu.Unlock()
	if reject {
		_, _ = ch.Write([]byte("\x02flash: device full\n"))
		exitStatus(ch, 1)
		return
	}
	_, _ = ch.Write([]byte{0})

	buf := make([]byte, size+1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return
	}

	d.mu.Lock()
	d.uploads[target] = buf[:size]
	d.mu.Unlock()

	_, _ = ch.Write([]byte{0})
	exitStatus(ch, 0)
}

func exitStatus(ch ssh.Channel, code uint32) {
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{code}))
}

func (d *fakeDevice) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func (d *fakeDevice) Upload(target string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.uploads[target]
	return data, ok
}
