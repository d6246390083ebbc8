package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/simlaunch/internal/launcher"
)

func newExecCmd(ctx *context) *cobra.Command {
	var (
		label    string
		dir      string
		envPairs []string
		duration time.Duration
		tty      bool
		stats    bool
	)

	cmd := &cobra.Command{
		Use:   "exec [flags] -- program [args...]",
		Short: "Supervise a single command without a launch file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvPairs(envPairs)
			if err != nil {
				return err
			}
			if label == "" {
				label = filepath.Base(args[0])
			}
			if dir != "" {
				if dir, err = filepath.Abs(dir); err != nil {
					return fmt.Errorf("resolve --dir: %w", err)
				}
			}

			step := launchStep{command: launcher.Command{
				Args:  args,
				Label: label,
				Dir:   dir,
				Env:   env,
				TTY:   tty,
			}}
			code, err := ctx.runGroup(cmd, groupOptions{
				name:     "simlaunch",
				duration: duration,
				stats:    stats,
			}, []launchStep{step})
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitCodeError{Code: code}
			}
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringVar(&label, "label", "", "Output prefix (defaults to the program's base name)")
	cmd.Flags().StringVar(&dir, "dir", "", "Working directory for the program")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "Set KEY=VALUE in the program's environment (repeatable)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Kill the program after this long (0 waits for it to exit)")
	cmd.Flags().BoolVar(&tty, "tty", false, "Run the program on a pseudo-terminal")
	cmd.Flags().BoolVar(&stats, "stats", false, "Print wall time, peak RSS and CPU time when the program ends")
	return cmd
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--env %q: expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}
