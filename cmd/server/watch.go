package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"slidesync/internal/protocol"
	"slidesync/internal/roomclient"
)

var (
	watchRole      string
	watchHeartbeat time.Duration
)

// watchCmd joins a room and prints every message it receives as a JSON line.
var watchCmd = &cobra.Command{
	Use:   "watch <room-url>",
	Short: "Tail the messages of a room, e.g. ws://localhost:8080/rooms/demo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		client, err := roomclient.Dial(ctx, args[0], protocol.ParseRole(watchRole))
		if err != nil {
			return err
		}
		defer client.Close()

		if watchHeartbeat > 0 {
			go keepAlive(ctx, client, watchHeartbeat)
		}

		out := cmd.OutOrStdout()
		for {
			msg, err := client.Receive(ctx)
			if err != nil {
				if roomclient.IsExpectedDisconnect(ctx, err) {
					return nil
				}
				return err
			}
			line, err := msg.Encode()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(line))
		}
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchRole, "role", string(protocol.RoleAudience), "role to join with")
	watchCmd.Flags().DurationVar(&watchHeartbeat, "heartbeat", 30*time.Second, "heartbeat interval (0 to disable)")
}

func keepAlive(ctx context.Context, client *roomclient.Client, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(ctx); err != nil {
				return
			}
		}
	}
}
