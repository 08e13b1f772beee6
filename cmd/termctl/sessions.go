package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List live sessions",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var sendCmd = &cobra.Command{
	Use:   "send <id> <text>...",
	Short: "Type text into a session",
	Long: `Type text into a session. The words are joined with spaces; unless
--no-newline is given, the server platform's line terminator is appended.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

var resizeCmd = &cobra.Command{
	Use:   "resize <id> <cols> <rows>",
	Short: "Resize a session",
	Args:  cobra.ExactArgs(3),
	RunE:  runResize,
}

var killCmd = &cobra.Command{
	Use:   "kill <id>",
	Short: "Kill a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runKill,
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Kill every session",
	Args:  cobra.NoArgs,
	RunE:  runTeardown,
}

var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "Show the server platform",
	Args:  cobra.NoArgs,
	RunE:  runPlatform,
}

var (
	sendNoNewline bool
	killWait      time.Duration
)

func init() {
	sendCmd.Flags().BoolVarP(&sendNoNewline, "no-newline", "n", false, "Do not append a line terminator")
	killCmd.Flags().DurationVar(&killWait, "wait", 0, "Wait up to this long for the session to exit")

	rootCmd.AddCommand(listCmd, sendCmd, resizeCmd, killCmd, teardownCmd, platformCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	sessions, err := newClient().Sessions(cmd.Context())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPID\tSTATUS\tSIZE\tSTARTED\tCWD")
	for _, s := range sessions {
		fmt.Fprintf(w, "%d\t%d\t%s\t%dx%d\t%s\t%s\n",
			s.ID, s.Pid, s.Status, s.Cols, s.Rows,
			s.StartedAt.Local().Format(time.TimeOnly), s.Cwd)
	}
	return w.Flush()
}

func runSend(cmd *cobra.Command, args []string) error {
	id, err := terminal.ParseID(args[0])
	if err != nil {
		return err
	}
	c := newClient()
	ctx := cmd.Context()

	text := strings.Join(args[1:], " ")
	if !sendNoNewline {
		platform, err := c.Platform(ctx)
		if err != nil {
			return err
		}
		text += platform.LineTerminator
	}

	delivered, err := c.Write(ctx, id, []byte(text))
	if err != nil {
		return err
	}
	return reportDelivery(id, delivered)
}

func runResize(cmd *cobra.Command, args []string) error {
	id, err := terminal.ParseID(args[0])
	if err != nil {
		return err
	}
	cols, errCols := strconv.Atoi(args[1])
	rows, errRows := strconv.Atoi(args[2])
	if errCols != nil || errRows != nil {
		return fmt.Errorf("invalid size %sx%s", args[1], args[2])
	}

	delivered, err := newClient().Resize(cmd.Context(), id, cols, rows)
	if err != nil {
		return err
	}
	return reportDelivery(id, delivered)
}

func runKill(cmd *cobra.Command, args []string) error {
	id, err := terminal.ParseID(args[0])
	if err != nil {
		return err
	}

	resp, err := newClient().Kill(cmd.Context(), id, killWait)
	if err != nil {
		return err
	}
	if err := reportDelivery(id, resp.Delivered); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case resp.Exit != nil:
		fmt.Fprintf(out, "Session %d exited with code %d\n", id, resp.Exit.ExitCode)
	case resp.Error != "":
		fmt.Fprintf(out, "Session %d failed: %s\n", id, resp.Error)
	case killWait > 0:
		fmt.Fprintf(out, "Session %d still running after %s\n", id, killWait)
	default:
		fmt.Fprintf(out, "Kill sent to session %d\n", id)
	}
	return nil
}

func runTeardown(cmd *cobra.Command, _ []string) error {
	killed, err := newClient().Teardown(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Killed %d session(s)\n", killed)
	return nil
}

func runPlatform(cmd *cobra.Command, _ []string) error {
	platform, err := newClient().Platform(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (line terminator %q)\n", platform.Platform, platform.LineTerminator)
	return nil
}

func reportDelivery(id terminal.ID, delivered bool) error {
	if !delivered {
		return fmt.Errorf("session %d not found", id)
	}
	return nil
}
