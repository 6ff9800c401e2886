package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type RequeueOptions struct {
	GlobalOptions

	RequeuedBy string
}

func DefaultRequeueOptions() *RequeueOptions {
	return &RequeueOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdRequeue() *cobra.Command {
	o := DefaultRequeueOptions()
	cmd := &cobra.Command{
		Use:   "requeue ID",
		Short: "Return a dead letter entry to the processing queue.",
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

func (o *RequeueOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.RequeuedBy, "by", o.RequeuedBy, "Operator recorded on the requeued entry")
}

func (o *RequeueOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	return nil
}

func (o *RequeueOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}

	if _, err := uuid.Parse(args[0]); err != nil {
		return fmt.Errorf("invalid dead letter id: %s", args[0])
	}
	return nil
}

func (o *RequeueOptions) Run(ctx context.Context, args []string) error {
	c := o.Client()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid dead letter id: %s", args[0])
	}

	reply, err := c.RequeueDeadLetter(ctx, id, o.RequeuedBy)
	if err != nil {
		return fmt.Errorf("requeueing deadletter/%s: %w", id, err)
	}
	fmt.Printf("dead letter %s requeued, document %s back in queue\n", reply.ID, reply.DocumentID)

	return nil
}
