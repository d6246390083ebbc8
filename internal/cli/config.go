package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/simlaunch/internal/config"
	launchschema "github.com/Paintersrp/simlaunch/schema"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with launch files",
	}
	cmd.AddCommand(newConfigLintCmd())
	cmd.AddCommand(newConfigSchemaCmd())
	return cmd
}

func newConfigLintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Validate a launch file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "launch.yaml"
			if flag := cmd.Flag("file"); flag != nil {
				if value := flag.Value.String(); value != "" {
					path = value
				}
			}

			doc, err := config.Load(path)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return &ExitCodeError{Code: 1}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d children)\n", path, len(doc.Children))
			return nil
		},
	}
	return cmd
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema launch files are validated against",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(launchschema.LaunchV1Schema)
			return err
		},
	}
}
