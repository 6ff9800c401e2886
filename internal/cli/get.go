package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"

	api "github.com/disputeflow/verifier/api/v1"
	"github.com/disputeflow/verifier/internal/client"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var (
	legalOutputTypes = []string{jsonFormat, yamlFormat}
)

type GetOptions struct {
	GlobalOptions

	Output        string
	Stage         string
	DocumentID    string
	OnlyPending   bool
	OnlyRetryable bool
	Limit         int
	Offset        int
}

func DefaultGetOptions() *GetOptions {
	return &GetOptions{
		GlobalOptions: DefaultGlobalOptions(),
		Limit:         50,
	}
}

func NewCmdGet() *cobra.Command {
	o := DefaultGetOptions()
	cmd := &cobra.Command{
		Use:   "get (TYPE | TYPE/ID)",
		Short: "Display queue statistics, document state or dead letters.",
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

func (o *GetOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
	fs.StringVar(&o.Stage, "stage", o.Stage, "Filter dead letters by pipeline stage")
	fs.StringVar(&o.DocumentID, "document", o.DocumentID, "Filter dead letters by document id")
	fs.BoolVar(&o.OnlyPending, "pending", o.OnlyPending, "Only dead letters not yet requeued")
	fs.BoolVar(&o.OnlyRetryable, "retryable", o.OnlyRetryable, "Only dead letters eligible for a requeue")
	fs.IntVar(&o.Limit, "limit", o.Limit, "Maximum number of dead letters to list")
	fs.IntVar(&o.Offset, "offset", o.Offset, "Number of dead letters to skip")
}

func (o *GetOptions) Complete(cmd *cobra.Command, args []string) error {
	if err := o.GlobalOptions.Complete(cmd, args); err != nil {
		return err
	}
	return nil
}

func (o *GetOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}

	kind, id, err := parseAndValidateKindId(args[0])
	if err != nil {
		return err
	}
	switch kind {
	case DocumentKind, ResultKind:
		if id == nil {
			return fmt.Errorf("%s requires an id", kind)
		}
	default:
		if id != nil {
			return fmt.Errorf("%s does not take an id", plural(kind))
		}
	}

	if len(o.Output) > 0 && !funk.Contains(legalOutputTypes, o.Output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}

	if o.Stage != "" && !funk.Contains(api.PipelineStages, api.Stage(o.Stage)) {
		return fmt.Errorf("stage must be one of %v", api.PipelineStages)
	}

	return nil
}

func (o *GetOptions) Run(ctx context.Context, args []string) error {
	c := o.Client()

	kind, id, err := parseAndValidateKindId(args[0])
	if err != nil {
		return err
	}
	switch kind {
	case StatsKind:
		reply, err := c.QueueStats(ctx)
		if err != nil {
			return fmt.Errorf("reading %s: %w", kind, err)
		}
		return o.print(reply, func(w *tabwriter.Writer) { printStatsTable(w, reply) })
	case DeadLetterKind:
		replies, err := c.ListDeadLetters(ctx, o.deadLetterQuery())
		if err != nil {
			return fmt.Errorf("listing %s: %w", plural(kind), err)
		}
		return o.print(replies, func(w *tabwriter.Writer) { printDeadLettersTable(w, replies...) })
	case DocumentKind:
		reply, err := c.DocumentStatus(ctx, *id)
		if err != nil {
			return fmt.Errorf("reading %s/%s: %w", kind, id, err)
		}
		return o.print(reply, func(w *tabwriter.Writer) { printStatusTable(w, reply) })
	case ResultKind:
		reply, err := c.DocumentResults(ctx, *id)
		if err != nil {
			return fmt.Errorf("reading %s/%s: %w", kind, id, err)
		}
		return o.print(reply, func(w *tabwriter.Writer) { printResultsTable(w, reply) })
	default:
		return fmt.Errorf("unsupported resource kind: %s", kind)
	}
}

func (o *GetOptions) deadLetterQuery() client.DeadLetterQuery {
	return client.DeadLetterQuery{
		Stage:         o.Stage,
		DocumentID:    o.DocumentID,
		OnlyPending:   o.OnlyPending,
		OnlyRetryable: o.OnlyRetryable,
		Limit:         o.Limit,
		Offset:        o.Offset,
	}
}

func (o *GetOptions) print(resource interface{}, table func(w *tabwriter.Writer)) error {
	switch o.Output {
	case jsonFormat:
		marshalled, err := json.Marshal(resource)
		if err != nil {
			return fmt.Errorf("marshalling resource: %w", err)
		}
		fmt.Printf("%s\n", string(marshalled))
		return nil
	case yamlFormat:
		marshalled, err := yaml.Marshal(resource)
		if err != nil {
			return fmt.Errorf("marshalling resource: %w", err)
		}
		fmt.Printf("%s\n", string(marshalled))
		return nil
	default:
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, '\t', 0)
		table(w)
		return w.Flush()
	}
}

func printStatsTable(w *tabwriter.Writer, stats *api.QueueStatsReply) {
	oldest := "-"
	if stats.OldestQueuedAt != nil {
		oldest = stats.OldestQueuedAt.Format(time.RFC3339)
	}
	fmt.Fprintln(w, "QUEUED\tOLDEST")
	fmt.Fprintf(w, "%d\t%s\n", stats.TotalQueued, oldest)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "PRIORITY\tCOUNT")
	for _, priority := range sortedKeys(stats.ByPriority) {
		fmt.Fprintf(w, "%s\t%d\n", priority, stats.ByPriority[priority])
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STAGE\tCOUNT")
	for _, stage := range sortedKeys(stats.ByStage) {
		fmt.Fprintf(w, "%s\t%d\n", stage, stats.ByStage[stage])
	}
}

func printDeadLettersTable(w *tabwriter.Writer, entries ...api.DeadLetterReply) {
	fmt.Fprintln(w, "ID\tDOCUMENT\tSTAGE\tREASON\tRETRYABLE\tFAILED AT")
	for _, entry := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			entry.ID, entry.DocumentID, entry.Stage, entry.FailureReason, entry.CanRetry, entry.FailedAt.Format(time.RFC3339))
	}
}

func printStatusTable(w *tabwriter.Writer, status *api.StatusReply) {
	position := "-"
	if status.QueuePosition != nil {
		position = strconv.FormatInt(*status.QueuePosition, 10)
	}
	lastError := status.LastError
	if lastError == "" {
		lastError = "-"
	}
	fmt.Fprintln(w, "ID\tSTATUS\tSTAGE\tPOSITION\tLAST ERROR")
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", status.DocumentID, status.Status, status.Stage, position, lastError)
}

func printResultsTable(w *tabwriter.Writer, results *api.DocumentResults) {
	score, recommendation, risk := "-", "-", "-"
	if results.FinalAssessment != nil {
		score = fmt.Sprintf("%.2f", results.FinalAssessment.OverallScore)
		recommendation = string(results.FinalAssessment.Recommendation)
		risk = string(results.FinalAssessment.RiskLevel)
	}
	fmt.Fprintln(w, "DOCUMENT\tSTATUS\tSEALED\tSCORE\tRECOMMENDATION\tRISK")
	fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
		results.DocumentID, results.ProcessingStatus, results.Sealed, score, recommendation, risk)
}

func sortedKeys(m map[string]int64) []string {
	keys := funk.Keys(m).([]string)
	sort.Strings(keys)
	return keys
}
