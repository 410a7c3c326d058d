package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gobox/gobox/internal/boxapi"
	"github.com/gobox/gobox/internal/client/control"
	boxsync "github.com/gobox/gobox/internal/client/sync"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

const ctlTimeout = 5 * time.Minute

func init() {
	rootCmd.AddCommand(newCtlCmd())
}

func newCtlCmd() *cobra.Command {
	ctlCmd := &cobra.Command{
		Use:   "ctl",
		Short: "Send a command to a running GoBox daemon",
	}

	ctlCmd.PersistentFlags().StringP("control-addr", "a", "", "Control address of the daemon (default from config)")

	ctlCmd.AddCommand(
		newCtlStatusCmd(),
		newCtlSyncCmd(),
		newCtlShutdownCmd(),
		newCtlRegisterCmd(),
		newCtlActivateCmd(),
	)
	return ctlCmd
}

func newCtlStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report boxsync.StatusReport
			if err := sendCommand(cmd, control.CmdStatus, nil, &report); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), &report)
			return nil
		},
	}
}

func newCtlSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a sync cycle now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report boxsync.CycleReport
			if err := sendCommand(cmd, control.CmdSync, nil, &report); err != nil {
				return err
			}
			printCycle(cmd.OutOrStdout(), &report)
			return nil
		},
	}
}

func newCtlShutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sendCommand(cmd, control.CmdShutdown, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), green("daemon stopping"))
			return nil
		},
	}
}

func newCtlRegisterCmd() *cobra.Command {
	var args control.RegisterArgs

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user on the GoBox server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var user boxapi.UserResponse
			if err := sendCommand(cmd, control.CmdRegister, args, &user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s, check the server for the activation code\n", cyan(user.Username))
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVarP(&args.Username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&args.Password, "password", "p", "", "password")
	cmd.Flags().StringVarP(&args.Email, "email", "e", "", "email address")
	return cmd
}

func newCtlActivateCmd() *cobra.Command {
	var args control.ActivateArgs

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate a registered user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var user boxapi.UserResponse
			if err := sendCommand(cmd, control.CmdActivate, args, &user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", cyan(user.Username), activeLabel(user.Active))
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVarP(&args.Username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&args.Code, "code", "k", "", "activation code")
	return cmd
}

// sendCommand delivers one command to the daemon and decodes the reply data
// into out, which may be nil.
func sendCommand(cmd *cobra.Command, name control.CommandName, args any, out any) error {
	addr, err := controlAddr(cmd)
	if err != nil {
		return err
	}

	ctlCmd, err := control.NewCommand(name, args)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := context.WithTimeout(cmd.Context(), ctlTimeout)
	defer cancel()

	resp, err := control.Send(ctx, addr, ctlCmd)
	if err != nil {
		return fmt.Errorf("daemon at %s: %w", addr, err)
	}
	if err := resp.Err(); err != nil {
		return err
	}

	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", name, err)
	}
	return nil
}

func controlAddr(cmd *cobra.Command) (string, error) {
	if addr, _ := cmd.Flags().GetString("control-addr"); addr != "" {
		return addr, nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return cfg.ControlAddr, nil
}

func printStatus(w io.Writer, r *boxsync.StatusReport) {
	fmt.Fprintf(w, "State:      %s\n", stateLabel(r.State))
	fmt.Fprintf(w, "Watch Dir:  %s\n", cyan(r.WatchDir))
	fmt.Fprintf(w, "Files:      %s\n", humanize.Comma(int64(r.Files)))
	fmt.Fprintf(w, "Timestamp:  %d\n", r.LastSyncTs)
	fmt.Fprintf(w, "Last Sync:  %s\n", humanTime(r.LastSyncAt))
	fmt.Fprintf(w, "Cycles:     %s\n", humanize.Comma(int64(r.Cycles)))
	if r.LocalModified {
		fmt.Fprintf(w, "Pending:    %s\n", cyan("local changes"))
	}
	if r.LastError != "" {
		fmt.Fprintf(w, "Last Error: %s\n", red(r.LastError))
	}

	if len(r.ActionsExecuted) > 0 {
		fmt.Fprintln(w, "Actions:")
		for _, kind := range sortedKinds(r.ActionsExecuted) {
			fmt.Fprintf(w, "  %-16s %s\n", kind, humanize.Comma(int64(r.ActionsExecuted[kind])))
		}
	}

	if len(r.Failed) > 0 {
		fmt.Fprintln(w, "Failed:")
		paths := make([]string, 0, len(r.Failed))
		for path := range r.Failed {
			paths = append(paths, path)
		}
		slices.Sort(paths)
		for _, path := range paths {
			pe := r.Failed[path]
			fmt.Fprintf(w, "  %s %s (%s, %dx, %s)\n", red(pe.Action), path, pe.Error, pe.ErrorCount, humanize.Time(pe.LastSeen))
		}
	}

	for _, path := range r.Duplicates {
		fmt.Fprintf(w, "  duplicate %s\n", path)
	}
}

func printCycle(w io.Writer, r *boxsync.CycleReport) {
	if r.Skipped {
		fmt.Fprintf(w, "%s nothing to do, timestamp %d\n", green("up to date"), r.Timestamp)
		return
	}

	fmt.Fprintf(w, "Cycle:      %s\n", r.CycleID)
	fmt.Fprintf(w, "Timestamp:  %d\n", r.Timestamp)
	fmt.Fprintf(w, "Duration:   %s\n", time.Duration(r.DurationMs)*time.Millisecond)
	fmt.Fprintf(w, "Local:      %s files\n", humanize.Comma(int64(r.LocalFiles)))
	fmt.Fprintf(w, "Remote:     %s files\n", humanize.Comma(int64(r.RemoteFiles)))
	for _, kind := range sortedKinds(r.Actions) {
		fmt.Fprintf(w, "  %-16s %s\n", kind, humanize.Comma(int64(r.Actions[kind])))
	}
	if !r.Committed {
		fmt.Fprintln(w, cyan("local changes arrived during the cycle, another one follows"))
	}
}

func sortedKinds(counts map[boxsync.ActionKind]int) []boxsync.ActionKind {
	kinds := make([]boxsync.ActionKind, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

func stateLabel(state boxsync.CoordinatorState) string {
	if state == boxsync.StateStopped {
		return red(state)
	}
	return green(state)
}

func activeLabel(active bool) string {
	if active {
		return green("active")
	}
	return red("inactive")
}

func humanTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
