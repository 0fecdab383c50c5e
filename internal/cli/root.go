package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/duet-run/duet/internal/config"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	var manifest string
	var logJSON bool

	root := &cobra.Command{
		Use:   "duet",
		Short: "Dev-loop supervisor for a server and its inspector",
		Long: "duet launches a server process and, when configured, an inspector\n" +
			"companion process, sequences their startup, waits on both and tears\n" +
			"them down together on interrupt.",
	}

	root.PersistentFlags().
		StringVarP(&manifest, "file", "f", "duet.yaml", "Path to the session manifest")
	root.PersistentFlags().
		BoolVar(&logJSON, "log-json", false, "Emit events as JSON records instead of status lines")

	ctx := &context{manifest: &manifest, logJSON: &logJSON}
	root.AddCommand(newUpCmd(ctx))
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint. An interrupt cancels the command context
// so that a running session can shut both processes down before exit;
// interrupt-triggered shutdown still exits zero, while configuration and
// launch failures exit one.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type context struct {
	manifest *string
	logJSON  *bool
}

func (c *context) loadConfig() (*config.Config, error) {
	return config.Load(*c.manifest)
}
