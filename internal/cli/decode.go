package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

type decodedSegment struct {
	Time  time.Time `json:"time"`
	RunID string    `json:"run_id"`
}

type decodedContext struct {
	TraceID           string            `json:"trace_id"`
	ParentRunID       string            `json:"parent_run_id"`
	ParentDottedOrder string            `json:"parent_dotted_order"`
	Depth             int               `json:"depth"`
	Segments          []decodedSegment  `json:"segments"`
	Baggage           map[string]string `json:"baggage"`
}

func newDecodeCmd(configPath *string) *cobra.Command {
	var baggage string

	cmd := &cobra.Command{
		Use:   "decode <context>",
		Short: "Decode a run context header value",
		Long: `Decode parses the value of the run context field, e.g. copied from a
request log, and prints the trace, the parent run and every level of the
parent's dotted order as JSON.`,
		Example: `  runtrace decode 'v1;<trace_id>;<run_id>;<dotted_order>' --baggage 'tenant=acme'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			return decodeContext(cmd.OutOrStdout(), propagation.NewCodec(cfg.Propagation), args[0], baggage)
		},
	}

	cmd.Flags().StringVar(&baggage, "baggage", "", "Value of the baggage field")
	return cmd
}

func decodeContext(w io.Writer, codec *propagation.Codec, contextValue, baggage string) error {
	fields := map[string]string{codec.Config().ContextField: contextValue}
	if baggage != "" {
		fields[codec.Config().BaggageField] = baggage
	}

	tc, err := codec.Decode(fields)
	if err != nil {
		return err
	}
	segments, err := runtree.ParseDottedOrder(tc.ParentDottedOrder())
	if err != nil {
		return fmt.Errorf("%w: %v", propagation.ErrMalformedContext, err)
	}

	out := decodedContext{
		TraceID:           tc.TraceID().String(),
		ParentRunID:       tc.ParentRunID().String(),
		ParentDottedOrder: tc.ParentDottedOrder(),
		Depth:             len(segments),
		Baggage:           tc.Baggage(),
	}
	for _, s := range segments {
		out.Segments = append(out.Segments, decodedSegment{Time: s.Time, RunID: s.RunID.String()})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
