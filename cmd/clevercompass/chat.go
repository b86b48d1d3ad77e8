package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/clevercompass/internal/adapters/tui"
	"github.com/PabloGalante/clevercompass/internal/domain"
	"github.com/PabloGalante/clevercompass/internal/observability"
)

func newChatCmd(root *rootOptions) *cobra.Command {
	var (
		subjectName string
		logFile     string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the tutor in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}

			subject, err := domain.ParseSubject(subjectName)
			if err != nil {
				return err
			}

			// the terminal belongs to the UI; logs go to a file or nowhere
			var logOut io.Writer = io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				logOut = f
			}
			observability.Init(cfg.LogLevel, logOut)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			sess, err := d.svc.Open(ctx, subject)
			if err != nil {
				return err
			}
			return tui.Run(sess, d.encoder)
		},
	}

	cmd.Flags().StringVar(&subjectName, "subject", string(domain.DefaultSubject), "math, physics or chemistry")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file")
	return cmd
}
