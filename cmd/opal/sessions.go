package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opal-agent/opal/pkg/agent"
	"github.com/opal-agent/opal/pkg/session"
)

func newSessionsCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := dir
			if d == "" {
				if cfg, err := agent.LoadFileConfig(flagConfig); err == nil {
					d = resolveSessionsDir(cfg)
				} else {
					d = session.DefaultSessionsDir()
				}
			}
			return printSessions(d, 0)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "sessions directory (default: config sessions_dir, then the XDG default)")
	return cmd
}

// printSessions lists the sessions in dir. limit 0 means all.
func printSessions(dir string, limit int) error {
	infos, err := session.List(dir)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("[no sessions]")
		return nil
	}
	for i, info := range infos {
		if limit > 0 && i >= limit {
			fmt.Printf("  ... (%d more)\n", len(infos)-limit)
			break
		}
		fmt.Printf("%s  %-30s  msgs=%-3d  %s  %s\n",
			info.ID[:8],
			truncate(info.CWD, 30),
			info.MessageCount,
			info.Created.Format("2006-01-02 15:04"),
			truncate(info.FirstMessage, 40),
		)
	}
	return nil
}
