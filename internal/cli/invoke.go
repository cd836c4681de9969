package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/relgraph/internal/ir"
	"github.com/roach88/relgraph/internal/transport"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Args     string
	Kwargs   string
	Endpoint string
}

// InvokeResult is the outcome of one remote call.
type InvokeResult struct {
	URL    string `json:"url"`
	Model  string `json:"model"`
	Method string `json:"method"`
	Result any    `json:"result"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke <model> <method>",
		Short: "Call a model method on the server",
		Long: `Call a model method on the server over JSON-RPC, the way the
engine dispatches remote calls, and print the result.

The endpoint comes from --endpoint or transport.endpoint in the
configuration. Timeout and rate limit come from the configuration.

Example:
  relgraph invoke mail.message set_message_done --args '[[1, 2]]'
  relgraph invoke mail.message moderate --args '[[4]]' --kwargs '{"decision": "accept"}'`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invokeMethod(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Args, "args", "[]", "positional arguments as a JSON array")
	cmd.Flags().StringVar(&opts.Kwargs, "kwargs", "{}", "keyword arguments as a JSON object")
	cmd.Flags().StringVar(&opts.Endpoint, "endpoint", "", "server URL (default transport.endpoint)")

	return cmd
}

func invokeMethod(opts *InvokeOptions, model, method string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := opts.config()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = cfg.Transport.Endpoint
	}
	if endpoint == "" {
		return commandError(formatter, ErrCodeBadInput, "no endpoint: set --endpoint or transport.endpoint")
	}

	args, err := ir.UnmarshalIRValue([]byte(opts.Args))
	if err != nil {
		return commandError(formatter, ErrCodeBadInput, fmt.Sprintf("invalid --args JSON: %v", err))
	}
	argList, ok := args.(ir.IRArray)
	if !ok {
		return commandError(formatter, ErrCodeBadInput, "--args must be a JSON array")
	}
	kwargs, err := ir.DecodePayload([]byte(opts.Kwargs))
	if err != nil {
		return commandError(formatter, ErrCodeBadInput, fmt.Sprintf("invalid --kwargs JSON: %v", err))
	}

	call := ir.Call{Model: model, Method: method, Args: argList, Kwargs: kwargs}
	client := newClient(cfg, endpoint)
	formatter.VerboseLog("POST %s", client.URL(call))

	res, err := client.Invoke(ctx, call)
	if err != nil {
		var rpcErr *transport.RPCError
		if errors.As(err, &rpcErr) {
			if formatter.JSON() {
				if ferr := formatter.Failure(ErrCodeRemote, rpcErr.Message, rpcErr); ferr != nil {
					return ferr
				}
			} else {
				fmt.Fprintf(formatter.Writer, "✗ %s.%s failed: %s\n", model, method, rpcErr.Message)
			}
			return WrapExitError(ExitFailure, "remote call failed", err)
		}
		return commandError(formatter, ErrCodeRemote, err.Error())
	}

	result := InvokeResult{
		URL:    client.URL(call),
		Model:  model,
		Method: method,
		Result: ir.ToGo(res),
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}

	data, err := ir.MarshalIRValue(res)
	if err != nil {
		return err
	}
	fmt.Fprintf(formatter.Writer, "✓ %s.%s\n", model, method)
	fmt.Fprintf(formatter.Writer, "%s\n", data)
	return nil
}
