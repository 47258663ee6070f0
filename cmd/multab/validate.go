package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"multab/internal/config"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.v, a.cfgPath)
			if err != nil {
				return err
			}
			hasError := false
			for _, iss := range config.ValidateRun(cfg) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
				if iss.Severity == config.SeverityError {
					hasError = true
				}
			}
			if hasError {
				return fmt.Errorf("configuration is invalid")
			}
			fmt.Fprintln(a.out, "configuration is valid")
			return nil
		},
	}
}
