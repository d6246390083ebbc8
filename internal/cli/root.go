package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Paintersrp/simlaunch/internal/config"
	"github.com/Paintersrp/simlaunch/internal/logger"
	"github.com/Paintersrp/simlaunch/internal/settings"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	ctx := &context{}

	root := &cobra.Command{
		Use:   "simlaunch",
		Short: "Launch and supervise a group of simulation processes",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.init(cmd)
		},
	}

	root.PersistentFlags().
		StringVarP(&ctx.launchFile, "file", "f", "launch.yaml", "Path to launch file")
	settings.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newExecCmd(ctx))
	root.AddCommand(newStatusCmd(ctx))
	root.AddCommand(newStopCmd(ctx))
	root.AddCommand(newLogsCmd(ctx))
	root.AddCommand(newConfigCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint and exits with the group's status.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)

	root := NewRootCmd()
	root.SetContext(ctx)

	err := root.ExecuteContext(ctx)
	stop()
	os.Exit(exitStatus(err, os.Stderr))
}

type context struct {
	launchFile string
	settings   *settings.Settings
	logger     *zap.Logger
}

func (c *context) init(cmd *cobra.Command) error {
	cfg, err := settings.Load(cmd.Flags())
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	c.settings = cfg
	c.logger = log
	return nil
}

func (c *context) loadLaunchFile() (*config.LaunchFile, error) {
	return config.Load(c.launchFile)
}
