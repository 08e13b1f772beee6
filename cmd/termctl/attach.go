package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/GriffinCanCode/termbroker/internal/adapter"
	"github.com/GriffinCanCode/termbroker/internal/client"
	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

// detachKey is Ctrl-].
const detachKey = 0x1d

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Open a shell on the server in this terminal",
	Long: `Open a new shell session on the server and connect this terminal to it.

The session ends when the shell exits or when you press Ctrl-] to detach;
detaching kills the session.`,
	Args: cobra.NoArgs,
	RunE: runAttach,
}

var (
	attachCwd     string
	attachCommand string
)

func init() {
	attachCmd.Flags().StringVar(&attachCwd, "cwd", "", "Working directory on the server (default: server user's home)")
	attachCmd.Flags().StringVarP(&attachCommand, "command", "c", "", "Command to type once the shell starts")

	rootCmd.AddCommand(attachCmd)
}

// exitError carries the remote shell's exit code out of the command.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("shell exited with code %d", e.code) }

type attachResult struct {
	info terminal.ExitInfo
	err  error
}

func runAttach(cmd *cobra.Command, _ []string) error {
	inFd := int(os.Stdin.Fd())
	outFd := int(os.Stdout.Fd())
	if !term.IsTerminal(inFd) || !term.IsTerminal(outFd) {
		return errors.New("attach needs an interactive terminal")
	}

	ctx := cmd.Context()
	logger := newLogger()

	platform, err := newClient().Platform(ctx)
	if err != nil {
		return err
	}
	stream, err := client.Dial(ctx, serverURL, logger)
	if err != nil {
		return err
	}
	defer stream.Close()

	ended := make(chan attachResult, 1)
	a := adapter.New(stream, &stdioWidget{out: os.Stdout, fd: outFd}, adapter.Options{
		Cwd:            attachCwd,
		InitialCommand: attachCommand,
		Platform:       platform.Platform,
		OnEnd: func(info terminal.ExitInfo, err error) {
			ended <- attachResult{info: info, err: err}
		},
	}, logger)

	state, err := term.MakeRaw(inFd)
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer term.Restore(inFd, state)

	if err := a.Activate(); err != nil {
		return err
	}
	defer a.Deactivate()

	stopResize := watchResize(outFd, a.Resized)
	defer stopResize()

	detached := make(chan struct{})
	go pumpInput(os.Stdin, a, detached)

	select {
	case res := <-ended:
		if res.err != nil {
			return res.err
		}
		if res.info.ExitCode != 0 {
			return &exitError{code: res.info.ExitCode}
		}
		return nil
	case <-detached:
		fmt.Fprint(os.Stdout, "\r\n[detached]\r\n")
		return nil
	case <-stream.Done():
		return client.ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pumpInput forwards keystrokes until the detach key or end of input.
func pumpInput(r io.Reader, a *adapter.Adapter, detached chan<- struct{}) {
	defer close(detached)

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for i, b := range chunk {
				if b == detachKey {
					if i > 0 {
						a.Input(append([]byte(nil), chunk[:i]...))
					}
					return
				}
			}
			a.Input(append([]byte(nil), chunk...))
		}
		if err != nil {
			return
		}
	}
}

// stdioWidget renders to the local terminal.
type stdioWidget struct {
	out io.Writer
	fd  int
}

func (w *stdioWidget) Size() (int, int) {
	cols, rows, err := term.GetSize(w.fd)
	if err != nil {
		return 0, 0
	}
	return cols, rows
}

func (w *stdioWidget) Render(p []byte) {
	_, _ = w.out.Write(p)
}

func (w *stdioWidget) Dispose() {}
