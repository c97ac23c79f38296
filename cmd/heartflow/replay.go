package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/keshon/heartflow/internal/config"
	"github.com/keshon/heartflow/internal/logging"
	"github.com/keshon/heartflow/internal/mind"
	"github.com/keshon/heartflow/internal/replay"
)

func replayCmd() *cobra.Command {
	var (
		replies []string
		quiet   bool
	)
	cmd := &cobra.Command{
		Use:   "replay <transcript.jsonl|->",
		Short: "Feed a recorded transcript through the engine and print each decision",
		Long: `Each line of the transcript is a JSON object:

  {"group":"g","user":"u1","name":"alice","text":"hi","mentioned":false,"after":"5s"}

"at" sets an absolute RFC3339 time, "after" advances from the previous line.
The model answers with --reply values in turn; without any it always stays silent.
Tunables come from the environment as for "run".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Logging())
			defer logging.Close()

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			persona := mind.Persona{Name: appName}
			if cfg.PersonaFile != "" {
				if persona, err = config.ReadPersona(cfg.PersonaFile); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			sum, err := replay.Run(context.Background(), in, replay.Options{
				Config:  cfg.Mind(),
				Replies: replies,
				Persona: persona,
				Logger:  logging.For("replay"),
			}, func(d replay.Decision) {
				if quiet && d.Reply == "" {
					return
				}
				fmt.Fprintln(out, d.Format())
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\n%d messages, %d replies\n", sum.Lines, sum.Replies)
			for _, p := range sum.SortedPaths() {
				fmt.Fprintf(out, "  %-10s %d\n", p, sum.Paths[p])
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&replies, "reply", nil, "scripted model reply (repeatable)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only lines that got a reply")
	return cmd
}
