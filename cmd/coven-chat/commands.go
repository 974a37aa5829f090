// ABOUTME: Non-interactive subcommands: directory listing, remote sessions and the local archive
// ABOUTME: Destructive commands ask for confirmation unless --yes is given

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/2389/coven-chat/internal/client"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/target"
)

func newDirectoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "directory [agents|teams|workflows]",
		Aliases: []string{"dir"},
		Short:   "List the agents, teams and workflows the service offers",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			api, err := newClient(opts)
			if err != nil {
				return err
			}
			dir, err := target.Fetch(ctx, api)
			if err != nil {
				return fmt.Errorf("fetching directory: %w", err)
			}
			section := ""
			if len(args) == 1 {
				section = args[0]
			}
			printDirectory(cmd.OutOrStdout(), dir, section)
			return nil
		},
	}
}

func newSessionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage conversation sessions on the service",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, err := newClient(opts)
			if err != nil {
				return err
			}
			sessions, err := api.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Name, unixTime(s.UpdatedAt))
			}
			return w.Flush()
		},
	})

	var yes bool
	del := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(fmt.Sprintf("Delete session %s on the service?", args[0])) {
				return nil
			}
			api, err := newClient(opts)
			if err != nil {
				return err
			}
			if err := api.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")
	cmd.AddCommand(del)
	return cmd
}

func newArchiveCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Browse sessions archived on this machine",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withArchive(opts, func(a store.Store) error {
				sums, err := a.ListSessions(cmd.Context(), limit)
				if err != nil {
					return err
				}
				printSummaries(cmd.OutOrStdout(), sums)
				return nil
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", store.DefaultListLimit, "maximum sessions to list")

	show := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print an archived transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(opts, func(a store.Store) error {
				sess, err := a.GetSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				r := newRenderer(cmd.OutOrStdout())
				for _, m := range sess.Messages {
					r.show(m)
				}
				return nil
			})
		},
	}

	var yes bool
	del := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete an archived session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(fmt.Sprintf("Delete archived session %s?", args[0])) {
				return nil
			}
			return withArchive(opts, func(a store.Store) error {
				if err := a.DeleteSession(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")

	cmd.AddCommand(list, show, del)
	return cmd
}

func newClient(opts *options) (*client.Client, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return client.New(cfg.Server.BaseURL, nil, nil), nil
}

func withArchive(opts *options, fn func(store.Store) error) error {
	a, err := openArchive(opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// confirm asks a yes/no question; anything but an explicit yes is a no.
func confirm(question string) bool {
	ok := false
	if err := survey.AskOne(&survey.Confirm{Message: question}, &ok); err != nil {
		return false
	}
	return ok
}

// printDirectory lists one section of dir, or all of it when section is empty.
func printDirectory(w io.Writer, dir target.Directory, section string) {
	if section == "" || section == "agents" {
		agentColor.Fprintln(w, "Agents:")
		if len(dir.Agents) == 0 {
			fmt.Fprintln(w, "  (none)")
		}
		for _, a := range dir.Agents {
			fmt.Fprintf(w, "  @[%s]  %s\n", a.Name, a.ID)
		}
	}
	if section == "" || section == "teams" {
		teamColor.Fprintln(w, "Teams:")
		if len(dir.Teams) == 0 {
			fmt.Fprintln(w, "  (none)")
		}
		for _, t := range dir.Teams {
			fmt.Fprintf(w, "  /[%s]  %s\n", t.Name, t.ID)
		}
	}
	if section == "" || section == "workflows" {
		workflowColor.Fprintln(w, "Workflows:")
		if len(dir.Workflows) == 0 {
			fmt.Fprintln(w, "  (none)")
		}
		for _, wf := range dir.Workflows {
			fmt.Fprintf(w, "  ![%s]  %s\n", wf.Name, wf.ID)
		}
	}
}

func printSummaries(w io.Writer, sums []store.SessionSummary) {
	if len(sums) == 0 {
		fmt.Fprintln(w, "no archived sessions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tUPDATED")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Name, s.MessageCount, s.UpdatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func unixTime(sec int64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(sec, 0).Local().Format(time.DateTime)
}
