package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Aleph-Alpha/runtrace/v1/ingest"
	"github.com/Aleph-Alpha/runtrace/v1/logger"
	"github.com/Aleph-Alpha/runtrace/v1/propagation"
	"github.com/Aleph-Alpha/runtrace/v1/propagation/middleware"
	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

type callDeps struct {
	fx.In

	Codec     *propagation.Codec
	Sink      runtree.Sink
	Logger    *logger.Logger
	Collector *ingest.MemoryCollector
}

type callResult struct {
	Answer    string
	TraceID   uuid.UUID
	RootRunID uuid.UUID
}

func newCallCmd(configPath *string) *cobra.Command {
	var (
		url     string
		baggage map[string]string
	)

	cmd := &cobra.Command{
		Use:   "call [question]",
		Short: "Ask a question to a running serve command inside a traced run",
		Long: `Call opens a root run, sends the question to the chat endpoint of a
"runtrace serve" process with the run context in the request headers and ends
the run with the answer. The server side run joins the same trace.

With the memory sink the resulting tree is printed after the call.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}

			var deps callDeps
			app := fx.New(baseModule(cfg), deliveryModule(cfg), fx.Populate(&deps))
			if err := app.Err(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := app.Start(ctx); err != nil {
				return err
			}

			res, callErr := runCall(ctx, deps, &http.Client{}, url, strings.Join(args, " "), baggage)

			// Stopping flushes the processor, so the tree is complete afterwards.
			if err := app.Stop(context.WithoutCancel(ctx)); err != nil {
				deps.Logger.Error("Failed to stop cleanly", err)
			}
			if callErr != nil {
				return callErr
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "answer:   %s\ntrace_id: %s\nrun_id:   %s\n", res.Answer, res.TraceID, res.RootRunID)
			if cfg.Sink == SinkMemory {
				fmt.Fprintln(out)
				printTrees(out, deps.Collector.Trees())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8080", "Base URL of the serve command")
	cmd.Flags().StringToStringVar(&baggage, "baggage", nil, "Baggage sent with the run context, e.g. --baggage tenant=acme")
	return cmd
}

// runCall is the client side of the demo: one root run around one HTTP call.
func runCall(ctx context.Context, deps callDeps, httpClient *http.Client, baseURL, question string, baggage map[string]string) (callResult, error) {
	tree, err := runtree.NewRoot("client-call", runtree.RunTypeChain,
		runtree.MustPayload(map[string]interface{}{"question": question}),
		runtree.WithSink(deps.Sink),
		runtree.WithTags("client"),
	)
	if err != nil {
		return callResult{}, err
	}
	root := tree.Root()
	res := callResult{TraceID: root.TraceID(), RootRunID: root.ID()}

	ctx = runtree.ContextWithRun(ctx, root)
	if len(baggage) > 0 {
		// CaptureContext merges this baggage into every outgoing context.
		ctx = propagation.ContextWith(ctx, propagation.Capture(root, baggage))
	}

	client := *httpClient
	client.Transport = middleware.NewTransport(httpClient.Transport, deps.Codec).WithLogger(deps.Logger)

	answer, err := postQuestion(ctx, &client, baseURL, question)
	if err != nil {
		deps.Logger.ErrorWithContext(ctx, "Chat call failed", err, map[string]interface{}{"url": baseURL})
		endRun(ctx, deps.Logger, root, runtree.Payload{}, runtree.WithError(err))
	} else {
		endRun(ctx, deps.Logger, root, runtree.MustPayload(map[string]interface{}{"answer": answer}))
	}
	res.Answer = answer

	if flushErr := tree.Flush(context.WithoutCancel(ctx)); flushErr != nil {
		deps.Logger.ErrorWithContext(ctx, "Failed to deliver client runs", flushErr)
	}
	return res, err
}

func postQuestion(ctx context.Context, client *http.Client, baseURL, question string) (string, error) {
	body, err := json.Marshal(chatRequest{Question: question})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+chatPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chat endpoint answered %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	return out.Answer, nil
}

// endRun ends run and logs a failure instead of dropping it.
func endRun(ctx context.Context, log *logger.Logger, run *runtree.Run, outputs runtree.Payload, opts ...runtree.EndOption) {
	if err := run.End(outputs, opts...); err != nil {
		log.ErrorWithContext(ctx, "Failed to end run", err, map[string]interface{}{
			"run_id": run.ID().String(),
			"name":   run.Name(),
		})
	}
}
