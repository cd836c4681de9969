package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/relgraph/internal/bus"
	"github.com/roach88/relgraph/internal/config"
	"github.com/roach88/relgraph/internal/engine"
	"github.com/roach88/relgraph/internal/harness"
	"github.com/roach88/relgraph/internal/ir"
	"github.com/roach88/relgraph/internal/mail"
	"github.com/roach88/relgraph/internal/store"
	"github.com/roach88/relgraph/internal/transport"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Database    string
	Partner     int64
	PartnerName string
	Snapshot    bool
}

// ApplyResult summarizes an apply run.
type ApplyResult struct {
	Lines          int            `json:"lines"`
	Replayed       int            `json:"replayed_batches"`
	Batches        int64          `json:"batches"`
	Calls          int            `json:"calls"`
	Events         []string       `json:"events,omitempty"`
	Seq            int64          `json:"seq"`
	CheckpointHash string         `json:"checkpoint_hash,omitempty"`
	Models         map[string]int `json:"models"`
	Errors         []string       `json:"errors,omitempty"`
	Snapshot       *ir.Snapshot   `json:"snapshot,omitempty"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply <steps.jsonl>",
		Short: "Apply server pushes and mail operations to a journaled session",
		Long: `Apply steps to the mail models, one JSON object per line:

  {"push": "mail.message", "payload": {"id": 1, "body": "<p>hi</p>"}}
  {"push": "res.partner", "payload": {"type": "mark_as_read", "message_ids": [1]}}
  {"do": "toggle_star", "message": 1}

An existing journal is replayed first, so a session can be continued
across runs. After the last step the engine is drained, the journal is
flushed and a checkpoint of the final snapshot is written. Remote calls go
to transport.endpoint; without one they fail and are journaled as failed.

Blank lines and lines starting with # are skipped.

Examples:
  relgraph apply --db ./session.db steps.jsonl
  relgraph apply --db ./session.db --partner 3 --snapshot steps.jsonl`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database (default journal.path)")
	cmd.Flags().Int64Var(&opts.Partner, "partner", 0, "current partner id (default mail.current_partner)")
	cmd.Flags().StringVar(&opts.PartnerName, "partner-name", "", "current partner display name")
	cmd.Flags().BoolVar(&opts.Snapshot, "snapshot", false, "include the final snapshot in the output")

	return cmd
}

func runApply(opts *ApplyOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := opts.config()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	steps, err := readSteps(path)
	if err != nil {
		return commandError(formatter, ErrCodeBadInput, err.Error())
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Journal.Path
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return commandError(formatter, ErrCodeJournal, fmt.Sprintf("failed to open journal: %v", err))
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Error("error closing journal", "error", cerr)
		}
	}()

	journaled, err := st.ReadBatches(ctx)
	if err != nil {
		return commandError(formatter, ErrCodeJournal, err.Error())
	}
	schema, err := mail.NewSchema()
	if err != nil {
		return WrapExitError(ExitCommandError, "mail schema", err)
	}

	engineOpts := []engine.Option{
		engine.WithJournal(st),
		engine.WithMaxRecomputeSteps(cfg.Engine.MaxSteps),
	}
	if cfg.Transport.Endpoint != "" {
		engineOpts = append(engineOpts, engine.WithInvoker(newClient(cfg, cfg.Transport.Endpoint)))
	}
	e, err := engine.Replay(ctx, schema, journaled, engineOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to replay journal", err)
	}
	formatter.VerboseLog("Replayed %d batch(es) from %s", len(journaled), dbPath)

	b := bus.New()
	var events bus.Log
	events.Attach(b, mail.ActionEvent)

	partner := opts.Partner
	if partner == 0 {
		partner = cfg.Mail.CurrentPartner
	}
	mailOpts := []mail.Option{mail.WithBus(b)}
	if partner != 0 {
		mailOpts = append(mailOpts, mail.WithCurrentPartner(partner, opts.PartnerName))
	}
	svc, err := mail.New(e, mailOpts...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to set up mail service", err)
	}

	result := ApplyResult{Lines: len(steps), Replayed: len(journaled)}
	for _, s := range steps {
		err := harness.Apply(ctx, svc, s.Step)
		if err == nil {
			err = e.Drain(ctx)
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", s.Line, err))
			slog.Warn("step failed", "line", s.Line, "error", err)
		}
	}
	if err := e.Drain(ctx); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}

	seq, hash, data, err := e.Checkpoint()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode checkpoint", err)
	}
	if seq > 0 {
		if err := st.WriteCheckpoint(ctx, store.Checkpoint{Seq: seq, Hash: hash, Data: data}); err != nil {
			return commandError(formatter, ErrCodeJournal, err.Error())
		}
		result.CheckpointHash = hash
	}

	calls, err := st.ReadCalls(ctx)
	if err != nil {
		return commandError(formatter, ErrCodeJournal, err.Error())
	}
	result.Calls = len(calls)
	result.Batches = e.Stats().Batches - int64(len(journaled))
	result.Seq = seq
	for _, ev := range events.Events() {
		result.Events = append(result.Events, ev.Name)
	}

	snap := e.Snapshot()
	result.Models = make(map[string]int)
	for _, r := range snap.Records {
		result.Models[r.Model]++
	}
	if opts.Snapshot {
		result.Snapshot = &snap
	}

	return outputApply(formatter, result)
}

// newClient builds a JSON-RPC client from the transport section.
func newClient(cfg *config.Config, endpoint string) *transport.Client {
	return transport.NewClient(endpoint,
		transport.WithTimeout(cfg.Transport.Timeout),
		transport.WithRateLimit(cfg.Transport.RateLimit, cfg.Transport.Burst),
	)
}

// numberedStep is a step with its line in the input file.
type numberedStep struct {
	Line int
	Step harness.Step
}

// readSteps parses a JSON Lines file of steps. Every line is checked
// before anything is applied.
func readSteps(path string) ([]numberedStep, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read steps: %w", err)
	}
	defer f.Close()
	return parseSteps(f)
}

func parseSteps(r io.Reader) ([]numberedStep, error) {
	var steps []numberedStep
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 || text[0] == '#' {
			continue
		}

		// JSON is YAML; the yaml decoder rejects unknown keys.
		var step harness.Step
		dec := yaml.NewDecoder(bytes.NewReader(text))
		dec.KnownFields(true)
		if err := dec.Decode(&step); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if step.ExpectError != "" {
			return nil, fmt.Errorf("line %d: expect_error is only allowed in scenarios", line)
		}
		if err := harness.ValidateStep(step); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		steps = append(steps, numberedStep{Line: line, Step: step})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read steps: %w", err)
	}
	return steps, nil
}

func outputApply(formatter *OutputFormatter, result ApplyResult) error {
	var failure error
	if len(result.Errors) > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d step(s) failed", len(result.Errors)))
	}

	if formatter.JSON() {
		if failure != nil {
			if err := formatter.Failure(ErrCodeGeneric, failure.Error(), result); err != nil {
				return err
			}
			return failure
		}
		return formatter.Success(result)
	}

	w := formatter.Writer
	mark := "✓"
	if failure != nil {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s Applied %d step(s): %d batch(es), %d call(s), seq %d\n",
		mark, result.Lines, result.Batches, result.Calls, result.Seq)
	if result.Replayed > 0 {
		fmt.Fprintf(w, "  Replayed %d journaled batch(es) first\n", result.Replayed)
	}
	for _, name := range result.Events {
		fmt.Fprintf(w, "  Event: %s\n", name)
	}

	models := make([]string, 0, len(result.Models))
	for m := range result.Models {
		models = append(models, m)
	}
	slices.Sort(models)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Records:")
	for _, m := range models {
		fmt.Fprintf(w, "  %-20s %d\n", m, result.Models[m])
	}
	if result.CheckpointHash != "" {
		fmt.Fprintf(w, "\nCheckpoint: %s\n", result.CheckpointHash)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}

	if result.Snapshot != nil {
		data, err := ir.MarshalCanonical(result.Snapshot.Object())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%s\n", data)
	}
	return failure
}
