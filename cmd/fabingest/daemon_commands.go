package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"fabingest/internal/daemonctl"
	"fabingest/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startDiagnostic bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the fabingest daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx, startDiagnostic),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Message) != "" {
					fmt.Fprintln(stdout, result.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}
	startCmd.Flags().BoolVar(&startDiagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the fabingest daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			} else {
				fmt.Fprintln(stdout, "Stopping daemon pipeline...")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, pipeline and plugin status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.configValue())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, snap)
			}
			renderStatus(cmd.OutOrStdout(), snap, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")

	var restartDiagnostic bool
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the fabingest daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx, restartDiagnostic),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}

			switch result.Start.State {
			case daemonctl.StartStateStarted, daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon restarted")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Start.Message) != "" {
					fmt.Fprintln(stdout, result.Start.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}
	restartCmd.Flags().BoolVar(&restartDiagnostic, "diagnostic", false, "Enable diagnostic mode with separate DEBUG logs")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func renderStatus(out io.Writer, snap *daemonctl.Snapshot, colorize bool) {
	for _, line := range renderSectionHeader("System Status", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, line := range snap.Checks {
		fmt.Fprintln(out, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
	}
	fmt.Fprintln(out)

	st := snap.Status
	for _, line := range renderSectionHeader("Pipeline", colorize) {
		fmt.Fprintln(out, line)
	}
	rows := [][]string{
		{"Watch roots", strconv.Itoa(len(st.Roots))},
		{"Rules", strconv.Itoa(st.Rules)},
		{"Upload targets", strconv.Itoa(st.Uploads)},
	}
	if snap.Reachable {
		rows = append(rows,
			[]string{"Pending files", strconv.Itoa(st.Pending)},
			[]string{"Classified", strconv.FormatUint(st.Classified, 10)},
			[]string{"Skipped", strconv.FormatUint(st.Skipped, 10)},
			[]string{"Copy errors", strconv.FormatUint(st.CopyErrors, 10)},
			[]string{"Watch events", strconv.FormatUint(st.WatchEvents, 10)},
			[]string{"Watch restarts", strconv.FormatUint(st.WatchRestarts, 10)},
			[]string{"Roots without watch", strconv.Itoa(st.WatchDegraded)},
			[]string{"Classify workers", poolLine(st.ClassifyPool)},
			[]string{"Dispatch workers", poolLine(st.DispatchPool)},
		)
	}
	fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	if snap.Reachable && len(st.Plugins) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Plugin Activity", colorize) {
			fmt.Fprintln(out, line)
		}
		activity := make([][]string, 0, len(st.Plugins))
		for _, p := range st.Plugins {
			activity = append(activity, []string{
				p.Plugin,
				strconv.Itoa(p.Dispatched),
				strconv.Itoa(p.Failures),
				p.LastOutcome,
				formatTime(p.LastAt),
				p.LastPath,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Plugin", "Dispatched", "Failures", "Last Outcome", "Last At", "Last File"},
			activity,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
		))
	}

	if snap.Reachable {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Clock", colorize) {
			fmt.Fprintln(out, line)
		}
		switch {
		case st.LastSyncError != "":
			fmt.Fprintln(out, renderStatusLine("Server time", statusWarn, st.LastSyncError, colorize))
		case st.LastSync.IsZero():
			fmt.Fprintln(out, renderStatusLine("Server time", statusInfo, "Not synchronized", colorize))
		default:
			detail := fmt.Sprintf("offset %s (synced %s)", time.Duration(st.ClockOffsetMS)*time.Millisecond, humanize.Time(st.LastSync))
			fmt.Fprintln(out, renderStatusLine("Server time", statusOK, detail, colorize))
		}
	}

	if len(st.Disks) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Disks", colorize) {
			fmt.Fprintln(out, line)
		}
		disks := make([][]string, 0, len(st.Disks))
		for _, d := range st.Disks {
			if d.Error != "" {
				disks = append(disks, []string{d.Path, "-", "-", d.Error})
				continue
			}
			disks = append(disks, []string{d.Path, humanize.IBytes(d.FreeBytes), humanize.IBytes(d.TotalBytes), ""})
		}
		fmt.Fprintln(out, renderTable([]string{"Path", "Free", "Total", "Error"}, disks,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft}))
	}

	if len(snap.Recent) > 0 {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Recent Dispatches", colorize) {
			fmt.Fprintln(out, line)
		}
		fmt.Fprintln(out, renderHistory(snap.Recent))
	}
}

func poolLine(p ipc.PoolStats) string {
	return fmt.Sprintf("%d/%d busy, %d waiting, %d done", p.Running, p.Size, p.Waiting, p.Completed)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, diagnostic bool) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		Diagnostic: diagnostic,
	}
}
