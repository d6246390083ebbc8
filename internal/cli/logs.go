package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/simlaunch/internal/logsink"
)

func newLogsCmd(ctx *context) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "logs [label]",
		Short: "Print persisted child output",
		Long:  "Print the output persisted under --log-dir by earlier runs of the launch file, oldest first.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ctx.settings.LogDir == "" {
				return errors.New("logs: --log-dir (or SIMLAUNCH_LOG_DIR) is required")
			}
			doc, err := ctx.loadLaunchFile()
			if err != nil {
				return err
			}
			label := ""
			if len(args) == 1 {
				label = args[0]
				known := false
				for _, child := range doc.Children {
					if child.Label == label {
						known = true
						break
					}
				}
				if !known {
					return fmt.Errorf("unknown child %s", label)
				}
			}

			records, err := logsink.ReadRecords(logsink.LaunchDir(ctx.settings.LogDir, doc.Name), label)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				for i := range records {
					if err := enc.Encode(&records[i]); err != nil {
						return err
					}
				}
				return nil
			}
			for _, rec := range records {
				fmt.Fprintf(out, "%s [%s] %s\n", rec.Timestamp.Local().Format(time.RFC3339), rec.Label, rec.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON lines")
	return cmd
}
