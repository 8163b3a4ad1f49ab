package mpv

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/mod/semver"

	"github.com/go-drift/videoplayer/pkg/engine"
	"github.com/go-drift/videoplayer/pkg/source"
)

// ErrVersion is returned when mpv is older than the configured minimum.
var ErrVersion = stderrors.New("mpv: version too old")

var versionPattern = regexp.MustCompile(`v?(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion extracts a semantic version from an mpv-version string such
// as "mpv 0.37.0" or "mpv v0.38.0-dirty".
func ParseVersion(s string) (string, bool) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	patch := m[3]
	if patch == "" {
		patch = "0"
	}
	v := fmt.Sprintf("v%s.%s.%s", m[1], m[2], patch)
	return v, semver.IsValid(v)
}

// CheckVersion fails with ErrVersion when the connected mpv is older than
// minVersion.
func (e *Engine) CheckVersion(ctx context.Context, minVersion string) error {
	data, err := e.conn.Call(ctx, "get_property", "mpv-version")
	if err != nil {
		return err
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("mpv: mpv-version: %w", err)
	}
	v, ok := ParseVersion(raw)
	if !ok {
		return fmt.Errorf("mpv: unrecognized version %q", raw)
	}
	if semver.Compare(v, minVersion) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrVersion, v, minVersion)
	}
	e.logger.WithField("version", v).Debug("mpv version accepted")
	return nil
}

// Launcher starts one mpv process per engine.
type Launcher struct {
	// Path is the mpv executable.
	Path string
	// SocketDir holds the per-process IPC sockets.
	SocketDir string
	// Args are appended to the command line.
	Args []string
	// MinVersion, when set, is the oldest acceptable mpv (semver, "v0.35.0").
	MinVersion string
	AssetRoot  string
	// DialTimeout bounds process start-up. Defaults to 5s.
	DialTimeout time.Duration
	Logger      logrus.FieldLogger

	seq atomic.Int64
}

// Factory returns an engine.Factory backed by l.
func (l *Launcher) Factory() engine.Factory {
	return func(desc source.Description) (engine.Engine, error) {
		ctx, cancel := context.WithTimeout(context.Background(), l.dialTimeout())
		defer cancel()
		return l.Launch(ctx, desc)
	}
}

func (l *Launcher) dialTimeout() time.Duration {
	if l.DialTimeout <= 0 {
		return defaultTimeout
	}
	return l.DialTimeout
}

func (l *Launcher) logger() logrus.FieldLogger {
	if l.Logger == nil {
		return logrus.StandardLogger()
	}
	return l.Logger
}

// Launch starts mpv idle, connects to its socket and checks its version.
func (l *Launcher) Launch(ctx context.Context, desc source.Description) (*Engine, error) {
	if err := os.MkdirAll(l.SocketDir, 0o700); err != nil {
		return nil, fmt.Errorf("mpv: socket dir: %w", err)
	}
	sock := filepath.Join(l.SocketDir, fmt.Sprintf("mpv-%d-%d.sock", os.Getpid(), l.seq.Add(1)))

	args := append([]string{
		"--idle=yes",
		"--no-terminal",
		"--input-ipc-server=" + sock,
	}, l.Args...)
	cmd := exec.Command(l.Path, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mpv: start %s: %w", l.Path, err)
	}
	p := &process{cmd: cmd, sock: sock, exited: make(chan struct{})}
	go p.wait()

	logger := l.logger().WithFields(logrus.Fields{"pid": cmd.Process.Pid, "socket": sock})
	nc, err := p.dial(ctx)
	if err != nil {
		p.stop()
		return nil, err
	}

	e := New(nc, desc, Options{
		Logger:    logger,
		Timeout:   l.dialTimeout(),
		AssetRoot: l.AssetRoot,
		OnRelease: p.stop,
	})
	if l.MinVersion != "" {
		if err := e.CheckVersion(ctx, l.MinVersion); err != nil {
			e.Release()
			return nil, err
		}
	}
	logger.Debug("mpv started")
	return e, nil
}

type process struct {
	cmd     *exec.Cmd
	sock    string
	exited  chan struct{}
	waitErr error
}

func (p *process) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

// dial retries until mpv has created its socket.
func (p *process) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		nc, err := d.DialContext(ctx, "unix", p.sock)
		if err == nil {
			return nc, nil
		}
		select {
		case <-p.exited:
			return nil, fmt.Errorf("mpv: exited before accepting connections: %v", p.waitErr)
		case <-ctx.Done():
			return nil, fmt.Errorf("mpv: connect %s: %w", p.sock, ctx.Err())
		case <-ticker.C:
		}
	}
}

// stop gives mpv a moment to act on quit, then kills it.
func (p *process) stop() {
	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	_ = os.Remove(p.sock)
}
