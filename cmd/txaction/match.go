package txaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/edgeflare/txaction/pkg/pipeline/transform"
	"github.com/edgeflare/txaction/pkg/tx"
	"github.com/spf13/cobra"
)

var matchPipeline string

var matchCmd = &cobra.Command{
	Use:   "match [file|-]",
	Short: "Classify recorded change events offline",
	Long: `Read Debezium change events (a JSON array or a single event) from a file or
stdin, group them into transactions and print one JSON line per transaction with
the matched action and its record, or the reason it was not matched.`,
	Args: cobra.ExactArgs(1),
	RunE: runMatch,
}

// matchOutput is one line of match output.
type matchOutput struct {
	TxID   string         `json:"tx_id"`
	Action string         `json:"action,omitempty"`
	Kind   tx.Kind        `json:"kind,omitempty"`
	Record *action.Result `json:"record,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func runMatch(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	events, err := decodeEvents(data)
	if err != nil {
		return err
	}

	registry, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	chain := func(t *tx.Transaction) (*tx.Transaction, error) { return t, nil }
	if matchPipeline != "" {
		pl := cfg.Pipeline.GetPipeline(matchPipeline)
		if pl == nil {
			return fmt.Errorf("pipeline %s not found", matchPipeline)
		}
		if chain, err = transform.NewManager().Chain(pl.Transformations); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	emit := func(t tx.Transaction) error {
		out := matchOutput{TxID: t.ID}
		transformed, err := chain(&t)
		switch {
		case err != nil:
			out.Reason, out.Error = pipeline.ReasonTransformation, err.Error()
		case transformed == nil:
			out.Reason = "filtered"
		default:
			result, err := registry.Dispatch(*transformed)
			if err != nil {
				out.Reason, out.Error = pipeline.Reason(err), err.Error()
			} else {
				out.Action, out.Kind, out.Record = result.Action, result.Kind, result
			}
		}
		return enc.Encode(out)
	}

	assembler := tx.NewAssembler(logger)
	for _, event := range events {
		for _, t := range assembler.Add(event) {
			if err := emit(t); err != nil {
				return err
			}
		}
	}
	if t, ok := assembler.Flush(); ok {
		return emit(t)
	}
	return nil
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

// decodeEvents accepts a JSON array of events or a single event.
func decodeEvents(data []byte) ([]cdc.Event, error) {
	events, err := cdc.DecodeAll(data)
	if err == nil {
		return events, nil
	}
	event, singleErr := cdc.Decode(data)
	if singleErr != nil {
		return nil, errors.Join(err, singleErr)
	}
	return []cdc.Event{event}, nil
}

func init() {
	matchCmd.Flags().StringVarP(&matchPipeline, "pipeline", "p", "", "apply the transformations of this pipeline before matching")
}
