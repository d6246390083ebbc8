package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/simlaunch/internal/cliutil"
	"github.com/Paintersrp/simlaunch/internal/config"
)

const visualizerTag = "visualizer"

type runOptions struct {
	duration time.Duration
	skip     []string
	without  []string
	bare     bool
	tui      bool
	stats    bool
	dryRun   bool
}

func newRunCmd(ctx *context) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the children of a launch file and supervise the group",
		Long: "Launch the children of a launch file in order, honouring readiness gates and\n" +
			"settle delays, then wait until the first child exits, the duration elapses or\n" +
			"the run is interrupted. Every child is killed before simlaunch exits.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := ctx.loadLaunchFile()
			if err != nil {
				return err
			}
			selected, skipped, err := selectChildren(doc, opts)
			if err != nil {
				return err
			}

			duration := doc.Duration.Duration
			if cmd.Flags().Changed("duration") {
				duration = opts.duration
			}

			if opts.dryRun {
				return writePlan(cmd.OutOrStdout(), doc, selected, skipped, duration)
			}

			code, err := ctx.runGroup(cmd, groupOptions{
				name:     doc.Name,
				duration: duration,
				tui:      opts.tui,
				stats:    opts.stats,
			}, stepsFromChildren(selected))
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitCodeError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "End the run after this long (0 runs until a child exits; overrides the launch file)")
	cmd.Flags().StringArrayVar(&opts.skip, "skip", nil, "Do not launch the child with this label (repeatable)")
	cmd.Flags().StringArrayVar(&opts.without, "without", nil, "Do not launch children carrying this tag (repeatable)")
	cmd.Flags().BoolVar(&opts.bare, "bare", false, "Shorthand for --without "+visualizerTag)
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "Show an interactive dashboard; quitting it terminates the group")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "Print per-child wall time, peak RSS and CPU time when the group ends")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the launch plan without starting anything")
	return cmd
}

type skippedChild struct {
	label  string
	reason string
}

// selectChildren applies --skip, --without and --bare. Unknown labels are an
// error; unknown tags are not, since companions are optional.
func selectChildren(doc *config.LaunchFile, opts runOptions) ([]*config.ChildSpec, []skippedChild, error) {
	skip := make(map[string]bool, len(opts.skip))
	for _, label := range opts.skip {
		skip[label] = false
	}
	without := append([]string(nil), opts.without...)
	if opts.bare {
		without = append(without, visualizerTag)
	}

	var selected []*config.ChildSpec
	var skipped []skippedChild
	for _, child := range doc.Children {
		if _, ok := skip[child.Label]; ok {
			skip[child.Label] = true
			skipped = append(skipped, skippedChild{label: child.Label, reason: "--skip"})
			continue
		}
		if tag, ok := firstTag(child, without); ok {
			skipped = append(skipped, skippedChild{label: child.Label, reason: "--without " + tag})
			continue
		}
		selected = append(selected, child)
	}

	var unknown []string
	for label, seen := range skip {
		if !seen {
			unknown = append(unknown, label)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, nil, fmt.Errorf("--skip: unknown child %s", strings.Join(unknown, ", "))
	}
	if len(selected) == 0 {
		return nil, nil, fmt.Errorf("%s: no children left to launch", doc.Name)
	}
	return selected, skipped, nil
}

func firstTag(child *config.ChildSpec, tags []string) (string, bool) {
	for _, tag := range tags {
		if child.HasTag(tag) {
			return tag, true
		}
	}
	return "", false
}

func writePlan(out io.Writer, doc *config.LaunchFile, selected []*config.ChildSpec, skipped []skippedChild, duration time.Duration) error {
	fmt.Fprintf(out, "Launch %s loaded from %s\n", doc.Name, doc.Source)
	fmt.Fprintln(out, "Launch order:")
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for i, child := range selected {
		command := cliutil.RedactSecrets(strings.Join(child.Command, " "))
		fmt.Fprintf(w, "  %d.\t%s\t%s\t%s\n", i+1, child.Label, command, describeGate(child))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for _, child := range selected {
		env := cliutil.RedactEnv(child.Env)
		if len(env) == 0 {
			continue
		}
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(out, "%s env:\n", child.Label)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s=%s\n", k, env[k])
		}
	}
	for _, s := range skipped {
		fmt.Fprintf(out, "Skipping %s (%s)\n", s.label, s.reason)
	}
	if duration > 0 {
		fmt.Fprintf(out, "Duration: %s\n", duration)
	} else {
		fmt.Fprintln(out, "Duration: until the first child exits")
	}
	return nil
}

func describeGate(child *config.ChildSpec) string {
	var parts []string
	if r := child.Ready; r != nil {
		var probes []string
		if r.TCP != nil {
			probes = append(probes, "tcp "+r.TCP.Address)
		}
		if r.HTTP != nil {
			probes = append(probes, "http "+r.HTTP.URL)
		}
		if r.Command != nil {
			probes = append(probes, "command "+cliutil.RedactSecrets(strings.Join(r.Command.Command, " ")))
		}
		if r.Log != nil {
			probes = append(probes, fmt.Sprintf("log /%s/", r.Log.Pattern))
		}
		if r.File != nil {
			probes = append(probes, "file "+r.File.Path)
		}
		parts = append(parts, fmt.Sprintf("ready: %s within %s", strings.Join(probes, ", "), r.Timeout.Duration))
	}
	if child.Settle.Duration > 0 {
		parts = append(parts, fmt.Sprintf("settle: %s", child.Settle.Duration))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "; ")
}
