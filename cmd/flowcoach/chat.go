package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	flowcoach "github.com/jeffreydebolt/Flowcoach2-sub000"
	"github.com/jeffreydebolt/Flowcoach2-sub000/core"
)

func chatCmd(flags *rootFlags) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agents in an interactive session",
		Long:  "Reads one message per line from stdin. Type exit or quit to leave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			coach, cfg, err := flags.open(cmd)
			if err != nil {
				return err
			}
			defer coach.Close()

			janitor(cmd.Context(), coach, cfg)

			fmt.Fprintf(cmd.OutOrStdout(), "FlowCoach ready. Try %shelp or %sproject <idea>.\n", cfg.Registry.Prefix, cfg.Registry.Prefix)

			return chat(cmd, coach, userID)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "local", "User id the conversation belongs to")

	return cmd
}

func chat(cmd *cobra.Command, coach *flowcoach.FlowCoach, userID string) error {
	in := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	for {
		fmt.Fprint(out, "> ")

		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}

		text := strings.TrimSpace(in.Text())

		switch strings.ToLower(text) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		printResponse(out, coach.HandleMessage(cmd.Context(), core.Message{Text: text, UserID: userID}))

		if err := cmd.Context().Err(); err != nil {
			return nil
		}
	}
}

func printResponse(out io.Writer, resp core.Response) {
	if resp.AgentID != "" {
		fmt.Fprintf(out, "[%s] ", resp.AgentID)
	}

	fmt.Fprintln(out, resp.Message)

	for _, a := range resp.Actions {
		fmt.Fprintf(out, "  → %s: %s\n", a.Label, a.Value)
	}
}
