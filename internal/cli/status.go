package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/simlaunch/internal/api"
	httpapi "github.com/Paintersrp/simlaunch/internal/api/http"
	"github.com/Paintersrp/simlaunch/internal/resources"
)

func (c *context) controlClient() *httpapi.Client {
	addr := ""
	if c.settings != nil {
		addr = c.settings.ControlAddr
	}
	return httpapi.NewClient(addr, nil)
}

func newStatusCmd(ctx *context) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the children of a running launch group",
		Long: "Query the control server of a running group. The group must have been started " +
			"with --control-addr; status uses the same setting to find it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := ctx.controlClient().Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			writeStatus(out, report, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status document")
	return cmd
}

func newStopCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "End a running launch group with return code 0",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := ctx.controlClient().Terminate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Terminate requested for %s\n", result.Launch)
			return nil
		},
	}
}

func writeStatus(out io.Writer, report *api.StatusReport, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tPID\tSTATE\tREADY\tCPU\tRSS\tAGE\tCOMMAND")
	for _, child := range report.Children {
		rss := "-"
		if child.PeakRSS > 0 {
			rss = resources.FormatSize(child.PeakRSS)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			child.Label,
			child.PID,
			formatChildState(child),
			child.Ready,
			formatSeconds(child.CPUSeconds),
			rss,
			formatAge(child, now),
			strings.Join(child.Args, " "),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nLaunch: %s\n", report.Launch)
	if report.Resolved && report.ReturnCode != nil {
		fmt.Fprintf(out, "Return code: %d\n", *report.ReturnCode)
	} else {
		fmt.Fprintln(out, "Return code: unresolved")
	}
}

func formatChildState(child api.ChildReport) string {
	switch {
	case child.Running:
		return "Running"
	case child.ExitCode == nil:
		return "-"
	case *child.ExitCode == 0:
		return "Exited"
	default:
		return fmt.Sprintf("Failed (%d)", *child.ExitCode)
	}
}

func formatAge(child api.ChildReport, now time.Time) string {
	if child.Started.IsZero() {
		return "-"
	}
	end := now
	if child.Exited != nil {
		end = *child.Exited
	}
	age := end.Sub(child.Started)
	if age < 0 {
		age = 0
	}
	return age.Truncate(time.Second).String()
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fs", seconds)
}
