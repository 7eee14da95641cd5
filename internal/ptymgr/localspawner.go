package ptymgr

import (
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
)

// LocalSpawner starts an unsandboxed PTY directly on the host. It satisfies
// Spawner and is meant as the default/dev-mode backend; a real deployment
// swaps it for a namespaced/cgrouped implementation behind the same
// interface, which this package never specifies.
type LocalSpawner struct{}

func NewLocalSpawner() *LocalSpawner { return &LocalSpawner{} }

func (LocalSpawner) Spawn(opts SpawnOptions) (Process, error) {
	cmd := exec.Command(opts.Shell)
	cmd.Env = buildEnv(opts.Env)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(opts.Rows), Cols: uint16(opts.Cols)})

	p := &localProcess{cmd: cmd, ptmx: ptmx}
	p.start()
	return p, nil
}

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	filtered := make([]string, 0, len(env)+len(extra)+1)
	for _, e := range env {
		if !strings.HasPrefix(e, "TERM=") {
			filtered = append(filtered, e)
		}
	}
	filtered = append(filtered, "TERM=xterm-256color")
	for k, v := range extra {
		filtered = append(filtered, k+"="+v)
	}
	return filtered
}

type localProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu       sync.Mutex
	onData   func([]byte)
	onExit   func(int)
	closedCh chan struct{}
}

func (p *localProcess) start() {
	p.closedCh = make(chan struct{})

	go func() {
		buf := make([]byte, 8192)
		for {
			n, err := p.ptmx.Read(buf)
			if n > 0 {
				p.mu.Lock()
				sink := p.onData
				p.mu.Unlock()
				if sink != nil {
					chunk := make([]byte, n)
					copy(chunk, buf[:n])
					sink(chunk)
				}
			}
			if err != nil {
				break
			}
		}
	}()

	go func() {
		err := p.cmd.Wait()
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
			}
		}
		p.mu.Lock()
		sink := p.onExit
		p.mu.Unlock()
		close(p.closedCh)
		if sink != nil {
			sink(exitCode)
		}
	}()
}

func (p *localProcess) Write(data []byte) (int, error) {
	return p.ptmx.Write(data)
}

func (p *localProcess) Resize(cols, rows int) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

func (p *localProcess) Close() error {
	_ = p.ptmx.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}

func (p *localProcess) OnData(fn func([]byte)) {
	p.mu.Lock()
	p.onData = fn
	p.mu.Unlock()
}

func (p *localProcess) OnExit(fn func(int)) {
	p.mu.Lock()
	p.onExit = fn
	p.mu.Unlock()
}

func (p *localProcess) Pid() int {
	return p.cmd.Process.Pid
}
