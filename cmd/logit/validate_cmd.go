package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hoangnb24/logit-sub000/pkg/config"
	"github.com/hoangnb24/logit-sub000/pkg/envelope"
	"github.com/hoangnb24/logit-sub000/pkg/validate"
)

func (a *app) validateCommand() *cobra.Command {
	var modeFlag string
	cmd := &cobra.Command{
		Use:   "validate [events.jsonl]",
		Short: "Check an events artifact against the agentlog.v1 schema",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(_ *cobra.Command, _ []string) error {
			_, err := validate.ParseMode(modeFlag)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := commandName(cmd)
			mode, _ := validate.ParseMode(modeFlag)

			path := a.paths.EventsPath()
			if len(args) == 1 {
				var err error
				if path, err = config.ResolveUserPath(args[0], a.paths.HomeDir, a.paths.CWD); err != nil {
					return runtimeFailure(command, "validate_input_invalid", err)
				}
			}

			report, err := validate.File(path, mode)
			if err != nil {
				return runtimeFailure(command, "validate_input_unreadable", err)
			}
			a.logger.Info("validation finished",
				"status", string(report.Status),
				"records_total", report.RecordsTotal,
				"errors", report.ErrorsCount,
				"warnings", report.WarningsCount,
			)

			if report.Status == validate.StatusFail {
				msg := fmt.Sprintf("validation failed: %d errors, %d warnings", report.ErrorsCount, report.WarningsCount)
				return &commandError{
					exit: report.ExitCode(),
					envelope: envelope.Fail(command, envelope.CodeValidation, msg).
						WithData(report).
						WithMeta("input_path", path).
						WithMeta("mode", string(mode)),
				}
			}
			return a.write(envelope.OK(command, report).
				WithMeta("input_path", path).
				WithMeta("mode", string(mode)))
		},
	}
	cmd.Flags().StringVar(&modeFlag, "mode", string(validate.ModeBaseline), "Validation mode (baseline|strict)")
	return cmd
}
