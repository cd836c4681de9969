package cli

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/relgraph/internal/ir"
	"github.com/roach88/relgraph/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Model    string // optional - filter to one model
	Method   string
	Status   string
	Since    int64
}

// Timeline event types.
const (
	EventBatch    = "batch"
	EventDispatch = "dispatch"
	EventResponse = "response"
)

// TraceEvent is one entry in the journal timeline.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	ID      string         `json:"id"`
	Ops     []string       `json:"ops,omitempty"`
	Call    string         `json:"call,omitempty"`
	Status  string         `json:"status,omitempty"`
	Args    []any          `json:"args,omitempty"`
	Kwargs  map[string]any `json:"kwargs,omitempty"`
	Error   string         `json:"error,omitempty"`
	Recomps int            `json:"recomputes,omitempty"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Batches    int `json:"batches"`
	Ops        int `json:"ops"`
	Recomputes int `json:"recomputes"`
	Calls      int `json:"calls"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journal timeline",
		Long: `Show the mutation batches and remote calls recorded in a journal,
ordered by logical clock.

Each batch lists its top-level ops. A remote call appears twice: when it
was dispatched and when its response was applied.

Examples:
  relgraph trace --db ./session.db
  relgraph trace --db ./session.db --model mail.message --since 10
  relgraph trace --db ./session.db --status failed
  relgraph trace --db ./session.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database (default journal.path)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "only show batches and calls touching this model")
	cmd.Flags().StringVar(&opts.Method, "method", "", "only show calls to this method")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only show calls with this status (pending|done|failed|dropped)")
	cmd.Flags().Int64Var(&opts.Since, "since", 0, "only show events after this seq")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := context.Background()

	cfg, err := opts.config()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Journal.Path
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return commandError(formatter, ErrCodeJournal, fmt.Sprintf("failed to open journal: %v", err))
	}
	defer st.Close()

	switch ir.CallStatus(opts.Status) {
	case "", ir.CallPending, ir.CallDone, ir.CallFailed, ir.CallDropped:
	default:
		return commandError(formatter, ErrCodeBadInput, fmt.Sprintf("unknown call status %q", opts.Status))
	}

	// Calls are not filtered by seq: a call dispatched before --since can
	// still complete after it.
	var batches []ir.Batch
	if opts.Method == "" && opts.Status == "" {
		batches, err = st.QueryBatches(ctx, store.Filter{Model: opts.Model, After: opts.Since})
		if err != nil {
			return commandError(formatter, ErrCodeJournal, err.Error())
		}
	}
	calls, err := st.QueryCalls(ctx, store.Filter{
		Model:  opts.Model,
		Method: opts.Method,
		Status: ir.CallStatus(opts.Status),
	})
	if err != nil {
		return commandError(formatter, ErrCodeJournal, err.Error())
	}

	result := buildTrace(batches, calls, opts.Since)
	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

// buildTrace merges batches and calls into one timeline, dropping events
// at or before since. Events at the same seq keep batch, dispatch,
// response order.
func buildTrace(batches []ir.Batch, calls []ir.CallRecord, since int64) TraceResult {
	result := TraceResult{Timeline: []TraceEvent{}}

	for _, b := range batches {
		if b.Seq <= since {
			continue
		}
		ops := make([]string, len(b.Ops))
		for i, op := range b.Ops {
			ops[i] = formatOp(op)
		}
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:     b.Seq,
			Type:    EventBatch,
			ID:      b.ID,
			Ops:     ops,
			Recomps: b.Recomputes,
		})
		result.Stats.Batches++
		result.Stats.Ops += len(b.Ops)
		result.Stats.Recomputes += b.Recomputes
	}

	for _, c := range calls {
		name := c.Call.Model + "." + c.Call.Method
		if c.Seq > since {
			args, _ := ir.ToGo(c.Call.Args).([]any)
			kwargs, _ := ir.ToGo(c.Call.Kwargs).(map[string]any)
			result.Timeline = append(result.Timeline, TraceEvent{
				Seq:    c.Seq,
				Type:   EventDispatch,
				ID:     c.Token,
				Call:   name,
				Status: string(c.Status),
				Args:   args,
				Kwargs: kwargs,
			})
			result.Stats.Calls++
			switch c.Status {
			case ir.CallPending:
				result.Stats.Pending++
			case ir.CallFailed:
				result.Stats.Failed++
			}
		}
		if c.DoneSeq > since && c.Status != ir.CallPending {
			result.Timeline = append(result.Timeline, TraceEvent{
				Seq:    c.DoneSeq,
				Type:   EventResponse,
				ID:     c.Token,
				Call:   name,
				Status: string(c.Status),
				Error:  c.Error,
			})
		}
	}

	order := map[string]int{EventBatch: 0, EventDispatch: 1, EventResponse: 2}
	slices.SortStableFunc(result.Timeline, func(a, b TraceEvent) int {
		if c := cmp.Compare(a.Seq, b.Seq); c != 0 {
			return c
		}
		return cmp.Compare(order[a.Type], order[b.Type])
	})
	return result
}

// formatOp renders an op as "kind model#local_id".
func formatOp(op ir.Op) string {
	if op.LocalID == "" {
		return fmt.Sprintf("%s %s", op.Kind, op.Model)
	}
	return fmt.Sprintf("%s %s#%s", op.Kind, op.Model, op.LocalID)
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, ev := range result.Timeline {
		switch ev.Type {
		case EventBatch:
			fmt.Fprintf(w, "  [%d] BATCH %s\n", ev.Seq, strings.Join(ev.Ops, ", "))
			if verbose {
				fmt.Fprintf(w, "       ID: %s, recomputes: %d\n", truncateID(ev.ID), ev.Recomps)
			}
		case EventDispatch:
			fmt.Fprintf(w, "  [%d] CALL %s\n", ev.Seq, ev.Call)
			if verbose {
				fmt.Fprintf(w, "       Args: %s\n", formatValue(ev.Args))
				if len(ev.Kwargs) > 0 {
					fmt.Fprintf(w, "       Kwargs: %s\n", formatValue(ev.Kwargs))
				}
				fmt.Fprintf(w, "       Token: %s\n", truncateID(ev.ID))
			}
		case EventResponse:
			fmt.Fprintf(w, "  [%d] %s %s\n", ev.Seq, strings.ToUpper(ev.Status), ev.Call)
			if ev.Error != "" {
				fmt.Fprintf(w, "       Error: %s\n", ev.Error)
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Batches:    %d\n", result.Stats.Batches)
	fmt.Fprintf(w, "  Ops:        %d\n", result.Stats.Ops)
	fmt.Fprintf(w, "  Recomputes: %d\n", result.Stats.Recomputes)
	fmt.Fprintf(w, "  Calls:      %d (%d pending, %d failed)\n",
		result.Stats.Calls, result.Stats.Pending, result.Stats.Failed)
}

// formatValue renders a decoded value with sorted keys.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%s", k, formatValue(val[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return fmt.Sprintf("%q", val)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// truncateID shortens a UUID for display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}
