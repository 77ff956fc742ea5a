package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/chatkeeper/internal/server/config"
	"github.com/spf13/cobra"
)

// runtime carries the per-invocation state shared by subcommands.
type runtime struct {
	environ map[string]string
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
	flags   *config.Flags
	svc     *services
}

// Execute runs the command line in args. environ replaces the process
// environment for configuration lookups.
func Execute(ctx context.Context, args []string, environ map[string]string, in io.Reader, out, errOut io.Writer) error {
	root, rt := newRootCmd(environ, in, out, errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, rt.close())
}

func newRootCmd(environ map[string]string, in io.Reader, out, errOut io.Writer) (*cobra.Command, *runtime) {
	rt := &runtime{environ: environ, in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "chatkeeper",
		Short:         "Store AI chat transcripts and stream model replies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	rt.flags = config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newMigrateCmd(rt),
		newUserCmd(rt),
		newConversationCmd(rt),
		newGenerateCmd(rt),
		newModelsCmd(rt),
		newChatCmd(rt),
	)
	return root, rt
}

// services loads configuration and builds the services on first use.
func (rt *runtime) services(ctx context.Context) (*services, error) {
	if rt.svc != nil {
		return rt.svc, nil
	}
	cfg, err := rt.flags.Load(rt.environ)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	svc, err := newServices(ctx, cfg, rt.errOut)
	if err != nil {
		return nil, err
	}
	rt.svc = svc
	return svc, nil
}

func (rt *runtime) close() error {
	if rt.svc == nil || rt.svc.close == nil {
		return nil
	}
	err := rt.svc.close()
	rt.svc = nil
	return err
}

func newMigrateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(rt.out, "migrations applied")
			return nil
		},
	}
}

func newModelsCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models generation accepts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			def := svc.gen.DefaultModel()
			for _, m := range svc.gen.AllowedModels() {
				if m == def {
					fmt.Fprintf(rt.out, "%s (default)\n", m)
					continue
				}
				fmt.Fprintln(rt.out, m)
			}
			return nil
		},
	}
}
