package main

import (
	"github.com/spf13/cobra"

	"github.com/hoangnb24/logit-sub000/pkg/config"
	"github.com/hoangnb24/logit-sub000/pkg/envelope"
	"github.com/hoangnb24/logit-sub000/pkg/normalize"
)

func (a *app) inspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [events.jsonl]",
		Short: "Summarize line counts and event breakdowns of an events file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := commandName(cmd)
			path := a.paths.EventsPath()
			if len(args) == 1 {
				var err error
				if path, err = config.ResolveUserPath(args[0], a.paths.HomeDir, a.paths.CWD); err != nil {
					return runtimeFailure(command, "inspect_target_invalid", err)
				}
			}
			in, err := normalize.InspectFile(path)
			if err != nil {
				return runtimeFailure(command, "inspect_target_unreadable", err)
			}
			return a.write(envelope.OK(command, in).
				WithMeta("input_path", path).
				WithWarnings("invalid_events_row", in.Warnings))
		},
	}
}
