package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpwire/mcpd/pkg/client"
)

var callFlagVals callFlags

type callFlags struct {
	address string
	token   string
	timeout time.Duration
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Issue requests against a running server or gateway",
	Long: `Issue MCP requests from the command line. The address selects the
transport by scheme: tcp://host:port, ws://host/path, http://host/rpc,
or stdio:/path/to/binary.`,
	Example: `  mcpd call list-resources --address tcp://localhost:7450
  mcpd call read-resource mcpd://server/info
  mcpd call call-tool echo '{"text": "hello"}'`,
}

func init() {
	rootCmd.AddCommand(callCmd)

	callCmd.PersistentFlags().StringVarP(&callFlagVals.address, "address", "a", "tcp://127.0.0.1:7450", "Server address")
	callCmd.PersistentFlags().StringVar(&callFlagVals.token, "token", "", "Bearer token for HTTP and WebSocket transports")
	callCmd.PersistentFlags().DurationVar(&callFlagVals.timeout, "timeout", 30*time.Second, "Per-request timeout")

	callCmd.AddCommand(
		&cobra.Command{
			Use:   "ping",
			Short: "Check that the server answers",
			RunE: withClient(func(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
				if err := c.Ping(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "pong")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "list-resources",
			Short: "List the server's resources",
			RunE: withClient(func(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
				resources, err := c.ListResources(ctx)
				if err != nil {
					return err
				}
				return printJSON(out, resources)
			}),
		},
		&cobra.Command{
			Use:   "list-templates",
			Short: "List the server's resource templates",
			RunE: withClient(func(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
				templates, err := c.ListResourceTemplates(ctx)
				if err != nil {
					return err
				}
				return printJSON(out, templates)
			}),
		},
		&cobra.Command{
			Use:   "read-resource <uri>",
			Short: "Read a resource by URI",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(func(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
				contents, err := c.ReadResource(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(out, contents)
			}),
		},
		&cobra.Command{
			Use:   "list-tools",
			Short: "List the server's tools",
			RunE: withClient(func(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
				tools, err := c.ListTools(ctx)
				if err != nil {
					return err
				}
				return printJSON(out, tools)
			}),
		},
		&cobra.Command{
			Use:   "call-tool <name> [arguments-json]",
			Short: "Invoke a tool",
			Args:  cobra.RangeArgs(1, 2),
			RunE: withClient(func(ctx context.Context, c *client.Client, out io.Writer, args []string) error {
				var arguments json.RawMessage
				if len(args) == 2 {
					if !json.Valid([]byte(args[1])) {
						return fmt.Errorf("arguments are not valid JSON: %s", args[1])
					}
					arguments = json.RawMessage(args[1])
				}
				result, err := c.CallTool(ctx, args[0], arguments)
				if err != nil {
					return err
				}
				return printJSON(out, result)
			}),
		},
	)
}

// withClient connects per the call flags, runs fn, and closes the
// client.
func withClient(fn func(ctx context.Context, c *client.Client, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), callFlagVals.timeout+5*time.Second)
		defer cancel()

		c, err := client.Connect(ctx, client.Config{
			Address:        callFlagVals.address,
			RequestTimeout: callFlagVals.timeout,
			AuthToken:      callFlagVals.token,
			Logger:         buildLogger(cfg),
		})
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", callFlagVals.address, err)
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			_ = c.Close(closeCtx)
		}()

		return fn(ctx, c, cmd.OutOrStdout(), args)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
