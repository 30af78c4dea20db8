package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-bridge/bridge"
	"github.com/wippyai/wasm-bridge/mailbox"
)

func newSendCmd(setup setupFunc) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "send <type> [json]",
		Short: "Send one message to the module and print its replies",
		Example: `  wasm-bridge send -m reader ping
  wasm-bridge send -m reader select '{"reader": "ACS ACR38U"}' --wait 3s`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw string
			if len(args) == 2 {
				raw = args[1]
			}
			payload, err := parsePayload(raw)
			if err != nil {
				return err
			}

			env, err := setup(cmd, false)
			if err != nil {
				return err
			}
			defer env.close()

			out := cmd.OutOrStdout()
			b := env.newBridge(bridge.OnUnhandled(printReplies(out)))
			if err := b.Start(cmd.Context()); err != nil {
				return err
			}
			defer b.Close(context.Background())

			b.Send(args[0], payload)

			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-cmd.Context().Done():
				return nil
			case <-b.Done():
				return b.Err()
			}
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to print replies before exiting")
	return cmd
}

// printReplies writes every inbound message to w as one JSON line.
func printReplies(w io.Writer) mailbox.Handler {
	return func(env mailbox.Envelope) {
		raw, err := mailbox.Encode(env)
		if err != nil {
			fmt.Fprintf(w, "# unencodable %s reply: %v\n", env.Type, err)
			return
		}
		fmt.Fprintf(w, "%s\n", raw)
	}
}
