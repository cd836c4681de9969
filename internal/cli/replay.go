package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/relgraph/internal/engine"
	"github.com/roach88/relgraph/internal/ir"
	"github.com/roach88/relgraph/internal/mail"
	"github.com/roach88/relgraph/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayResult holds the outcome of replaying a journal.
type ReplayResult struct {
	Batches       int    `json:"batches"`
	Calls         int    `json:"calls"`
	PendingCalls  int    `json:"pending_calls"`
	Seq           int64  `json:"seq"`
	Records       int    `json:"records"`
	SnapshotHash  string `json:"snapshot_hash,omitempty"`
	Deterministic bool   `json:"deterministic"`

	// Checkpoint is the seq of the checkpoint verified, or 0 if the
	// journal has none.
	Checkpoint     int64  `json:"checkpoint"`
	CheckpointOK   bool   `json:"checkpoint_ok"`
	CheckpointDiff string `json:"checkpoint_diff,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the journal and verify determinism",
		Long: `Rebuild the mail graph from the journal and verify it.

Every batch is re-applied through the engine and must hash to its journaled
id. The journal is replayed twice and the two snapshots must be identical.
If a checkpoint exists, the batches up to its seq are replayed and the
resulting snapshot is compared with it.

Exit codes:
  0 - Replay is deterministic and matches the latest checkpoint
  1 - Divergence or checkpoint mismatch
  2 - Command error (journal missing or unreadable)

Examples:
  relgraph replay --db ./session.db
  relgraph replay --db ./session.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database (default journal.path)")
	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
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

	summary, err := st.Summarize(ctx)
	if err != nil {
		return commandError(formatter, ErrCodeJournal, err.Error())
	}
	batches, err := st.ReadBatches(ctx)
	if err != nil {
		return commandError(formatter, ErrCodeJournal, err.Error())
	}
	schema, err := mail.NewSchema()
	if err != nil {
		return WrapExitError(ExitCommandError, "mail schema", err)
	}

	result := ReplayResult{
		Batches:      summary.Batches,
		Calls:        summary.Calls,
		PendingCalls: summary.PendingCalls,
	}
	formatter.VerboseLog("Replaying %d batch(es) from %s", len(batches), dbPath)

	if err := verifyReplay(ctx, st, schema, batches, cfg.Engine.MaxSteps, &result); err != nil {
		result.Error = err.Error()
	}
	return outputReplay(formatter, result)
}

// verifyReplay fills result. A returned error means the journal could not
// be replayed at all.
func verifyReplay(ctx context.Context, st *store.Store, schema *engine.Schema, batches []ir.Batch, maxSteps int, result *ReplayResult) error {
	first, err := engine.Replay(ctx, schema, batches, engine.WithMaxRecomputeSteps(maxSteps))
	if err != nil {
		return err
	}
	second, err := engine.Replay(ctx, schema, batches, engine.WithMaxRecomputeSteps(maxSteps))
	if err != nil {
		return err
	}

	seq, hash, _, err := first.Checkpoint()
	if err != nil {
		return err
	}
	_, again, _, err := second.Checkpoint()
	if err != nil {
		return err
	}
	result.Seq = seq
	result.SnapshotHash = hash
	result.Records = first.Stats().Records
	result.Deterministic = hash == again

	cp, err := st.LatestCheckpoint(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		result.CheckpointOK = true
		return nil
	}
	if err != nil {
		return err
	}
	result.Checkpoint = cp.Seq

	var prefix []ir.Batch
	for _, b := range batches {
		if b.Seq <= cp.Seq {
			prefix = append(prefix, b)
		}
	}
	at, err := engine.Replay(ctx, schema, prefix, engine.WithMaxRecomputeSteps(maxSteps))
	if err != nil {
		return err
	}
	if err := at.Verify(cp.Data); err != nil {
		result.CheckpointDiff = err.Error()
		return nil
	}
	result.CheckpointOK = true
	return nil
}

func outputReplay(formatter *OutputFormatter, result ReplayResult) error {
	ok := result.Error == "" && result.Deterministic && result.CheckpointOK
	var failure error
	if !ok {
		failure = NewExitError(ExitFailure, "determinism verification failed")
	}

	if formatter.JSON() {
		if failure != nil {
			if err := formatter.Failure(ErrCodeNondeterminism, failure.Error(), result); err != nil {
				return err
			}
			return failure
		}
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Replay Summary: %d batch(es), %d call(s) (%d pending)\n",
		result.Batches, result.Calls, result.PendingCalls)
	fmt.Fprintln(w)

	if result.Error != "" {
		fmt.Fprintf(w, "✗ Replay failed: %s\n", result.Error)
		return failure
	}

	fmt.Fprintf(w, "  Seq: %d\n", result.Seq)
	fmt.Fprintf(w, "  Records: %d\n", result.Records)
	fmt.Fprintf(w, "  Snapshot: %s\n", result.SnapshotHash)
	fmt.Fprintln(w)

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay is deterministic")
	} else {
		fmt.Fprintln(w, "✗ Two replays produced different snapshots")
	}
	switch {
	case result.Checkpoint == 0:
		fmt.Fprintln(w, "  No checkpoint to verify")
	case result.CheckpointOK:
		fmt.Fprintf(w, "✓ Checkpoint at seq %d verified\n", result.Checkpoint)
	default:
		fmt.Fprintf(w, "✗ Checkpoint at seq %d does not match\n", result.Checkpoint)
		fmt.Fprintln(w, result.CheckpointDiff)
	}
	return failure
}
