package terminal

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// Process is the OS side of a session. A session owns its Process
// exclusively; nothing else reads, writes or signals it.
type Process interface {
	io.Reader
	io.Writer
	Resize(size Size) error
	Kill() error
	// Wait blocks until the process exits. Non-zero exit statuses are
	// reported in ExitInfo, not as errors.
	Wait() (ExitInfo, error)
	Close() error
	Pid() int
}

// ptyProcess is a shell attached to a pseudo-terminal.
type ptyProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File

	closeOnce sync.Once
	closeErr  error
}

func startPTY(cmd *exec.Cmd, size Size) (*ptyProcess, error) {
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(size.Rows),
		Cols: uint16(size.Cols),
	})
	if err != nil {
		return nil, err
	}
	return &ptyProcess{cmd: cmd, ptmx: ptmx}, nil
}

func (p *ptyProcess) Read(b []byte) (int, error)  { return p.ptmx.Read(b) }
func (p *ptyProcess) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

func (p *ptyProcess) Resize(size Size) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{
		Rows: uint16(size.Rows),
		Cols: uint16(size.Cols),
	})
}

func (p *ptyProcess) Kill() error             { return killCmd(p.cmd) }
func (p *ptyProcess) Wait() (ExitInfo, error) { return waitCmd(p.cmd) }
func (p *ptyProcess) Pid() int                { return p.cmd.Process.Pid }

func (p *ptyProcess) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.ptmx.Close()
	})
	return p.closeErr
}

// pipeProcess is the fallback for platforms without PTY support. Output
// and error streams are merged; Resize is a no-op.
type pipeProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   *os.File

	closeOnce sync.Once
	closeErr  error
}

func startPipe(cmd *exec.Cmd) (*pipeProcess, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		stdin.Close()
		r.Close()
		w.Close()
		return nil, err
	}
	// The child holds its own copy; ours must go so reads see EOF on exit.
	w.Close()

	return &pipeProcess{cmd: cmd, stdin: stdin, out: r}, nil
}

func (p *pipeProcess) Read(b []byte) (int, error)  { return p.out.Read(b) }
func (p *pipeProcess) Write(b []byte) (int, error) { return p.stdin.Write(b) }
func (p *pipeProcess) Resize(Size) error           { return nil }
func (p *pipeProcess) Kill() error                 { return killCmd(p.cmd) }
func (p *pipeProcess) Wait() (ExitInfo, error)     { return waitCmd(p.cmd) }
func (p *pipeProcess) Pid() int                    { return p.cmd.Process.Pid }

func (p *pipeProcess) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = errors.Join(p.stdin.Close(), p.out.Close())
	})
	return p.closeErr
}

// startProcess starts shell on a PTY, falling back to pipes where the
// platform has no PTY support.
func startProcess(shell, dir string, env []string, size Size) (Process, error) {
	proc, err := startPTY(newCmd(shell, dir, env), size)
	if err == nil {
		return proc, nil
	}
	if !errors.Is(err, pty.ErrUnsupported) {
		return nil, err
	}
	return startPipe(newCmd(shell, dir, env))
}

func newCmd(shell, dir string, env []string) *exec.Cmd {
	cmd := exec.Command(shell)
	cmd.Dir = dir
	cmd.Env = env
	return cmd
}

func killCmd(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func waitCmd(cmd *exec.Cmd) (ExitInfo, error) {
	err := cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return ExitInfo{}, err
	}
	return exitInfo(cmd.ProcessState), nil
}
