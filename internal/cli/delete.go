package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type DeleteOptions struct {
	GlobalOptions
}

func DefaultDeleteOptions() *DeleteOptions {
	return &DeleteOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdDelete() *cobra.Command {
	o := DefaultDeleteOptions()
	cmd := &cobra.Command{
		Use:   "delete TYPE/ID",
		Short: "Cancel a document or discard a dead letter entry.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *DeleteOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
}

func (o *DeleteOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	return nil
}

func (o *DeleteOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}

	kind, id, err := parseAndValidateKindId(args[0])
	if err != nil {
		return err
	}
	switch kind {
	case DocumentKind, DeadLetterKind:
		if id == nil {
			return fmt.Errorf("%s requires an id", kind)
		}
	default:
		return fmt.Errorf("unsupported resource kind: %s", kind)
	}
	return nil
}

func (o *DeleteOptions) Run(ctx context.Context, args []string) error {
	c := o.Client()

	kind, id, err := parseAndValidateKindId(args[0])
	if err != nil {
		return err
	}
	switch kind {
	case DocumentKind:
		reply, err := c.CancelDocument(ctx, *id)
		if err != nil {
			return fmt.Errorf("cancelling %s/%s: %w", kind, id, err)
		}
		fmt.Printf("document %s %s\n", reply.DocumentID, reply.Status)
	case DeadLetterKind:
		if err := c.DiscardDeadLetter(ctx, *id); err != nil {
			return fmt.Errorf("discarding %s/%s: %w", kind, id, err)
		}
		fmt.Printf("dead letter %s discarded\n", id)
	default:
		return fmt.Errorf("unsupported resource kind: %s", kind)
	}

	return nil
}
