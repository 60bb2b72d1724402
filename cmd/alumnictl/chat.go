package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"alumni-messaging/pkg/chatclient"
)

var (
	chatServerURL string
	chatUserID    string
	chatToken     string

	conversationsJSON bool
	historyJSON       bool
	watchJSON         bool
)

func init() {
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(unpinCmd)
	rootCmd.AddCommand(hideCmd)

	for _, cmd := range []*cobra.Command{conversationsCmd, historyCmd, sendCmd, watchCmd, pinCmd, unpinCmd, hideCmd} {
		cmd.Flags().StringVar(&chatServerURL, "server", "", "messaging service URL (overrides config)")
		cmd.Flags().StringVar(&chatUserID, "user", "", "acting user id (overrides config)")
		cmd.Flags().StringVar(&chatToken, "token", "", "auth token (overrides config)")
	}
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "output raw JSON")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output raw JSON")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "output raw JSON events")
}

// connectClient builds a client from config plus flag overrides and opens
// the session.
func connectClient(ctx context.Context) (*chatclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	serverURL := cfg.Default.ServerURL
	if chatServerURL != "" {
		serverURL = chatServerURL
	}
	userID := cfg.Auth.UserID
	if chatUserID != "" {
		userID = chatUserID
	}
	token := cfg.Auth.Token
	if chatToken != "" {
		token = chatToken
	}
	if serverURL == "" || userID == "" || token == "" {
		return nil, "", fmt.Errorf("server, user and token are required; run 'alumnictl login' or pass flags")
	}

	client := chatclient.NewClient(chatclient.Config{
		ServerURL:     serverURL,
		AutoReconnect: true,
	})
	if err := client.Connect(ctx, userID, token); err != nil {
		return nil, "", fmt.Errorf("connect failed: %w", err)
	}
	return client, userID, nil
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations with unread counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, _, err := connectClient(ctx)
		if err != nil {
			return err
		}
		defer client.Disconnect()

		list := client.ChatList()
		if conversationsJSON {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, c := range list {
			marker := " "
			if c.Pinned {
				marker = "*"
			}
			preview := ""
			if c.LastMessage != nil {
				preview = c.LastMessage.Content
			}
			fmt.Printf("%s %-20s unread=%-3d %s\n", marker, c.PeerID, c.Unread, preview)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <peer-id>",
	Short: "Show message history with a user and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, userID, err := connectClient(ctx)
		if err != nil {
			return err
		}
		defer client.Disconnect()

		if err := client.OpenRoom(ctx, args[0]); err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}

		msgs := client.Timeline(client.ActiveRoom())
		if historyJSON {
			return printJSON(msgs)
		}
		for _, m := range msgs {
			who := m.SenderID
			if m.SenderID == userID {
				who = "me"
			}
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("2006-01-02 15:04"), who, m.Content)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <peer-id> <content>",
	Short: "Send a message to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, _, err := connectClient(ctx)
		if err != nil {
			return err
		}
		defer client.Disconnect()

		failed := make(chan error, 1)
		client.OnSendFailed(func(roomID, tempID string, reason error) {
			failed <- reason
		})

		tempID, err := client.Send(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		// Wait for either the confirmed echo or a failure.
		deadline := time.After(15 * time.Second)
		for {
			select {
			case reason := <-failed:
				return fmt.Errorf("send failed: %w", reason)
			case <-deadline:
				return fmt.Errorf("timed out waiting for delivery confirmation")
			case <-time.After(50 * time.Millisecond):
			}
			for _, m := range client.Timeline(roomIDFor(client, args[0])) {
				if m.TempID == tempID && m.DeliveryState == chatclient.DeliveryConfirmed {
					fmt.Printf("Delivered (id=%d)\n", m.ID)
					return nil
				}
			}
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		client, _, err := connectClient(ctx)
		if err != nil {
			return err
		}
		defer client.Disconnect()

		client.OnStateChange(func(s chatclient.ConnectionState) {
			fmt.Fprintf(os.Stderr, "-- connection: %s\n", s)
		})
		client.OnMessage(func(roomID string, msg chatclient.Message) {
			if watchJSON {
				printJSON(msg)
				return
			}
			fmt.Printf("[%s] %s -> %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.SenderID, msg.RecipientID, msg.Content)
		})
		client.OnRead(func(roomID, readerID string) {
			fmt.Fprintf(os.Stderr, "-- %s read %s\n", readerID, roomID)
		})
		client.OnUnread(func(roomID string, count int) {
			fmt.Fprintf(os.Stderr, "-- unread %s = %d\n", roomID, count)
		})

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		return nil
	},
}

var pinCmd = &cobra.Command{
	Use:   "pin <peer-id>",
	Short: "Pin a conversation to the top of the list",
	Args:  cobra.ExactArgs(1),
	RunE:  conversationAction(func(ctx context.Context, c *chatclient.Client, peer string) error { return c.PinConversation(ctx, peer) }),
}

var unpinCmd = &cobra.Command{
	Use:   "unpin <peer-id>",
	Short: "Remove a conversation pin",
	Args:  cobra.ExactArgs(1),
	RunE:  conversationAction(func(ctx context.Context, c *chatclient.Client, peer string) error { return c.UnpinConversation(ctx, peer) }),
}

var hideCmd = &cobra.Command{
	Use:   "hide <peer-id>",
	Short: "Hide a conversation from your list",
	Args:  cobra.ExactArgs(1),
	RunE:  conversationAction(func(ctx context.Context, c *chatclient.Client, peer string) error { return c.HideConversation(ctx, peer) }),
}

func conversationAction(fn func(context.Context, *chatclient.Client, string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, _, err := connectClient(ctx)
		if err != nil {
			return err
		}
		defer client.Disconnect()

		if err := fn(ctx, client, args[0]); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	}
}

func roomIDFor(client *chatclient.Client, peerID string) string {
	for _, c := range client.ChatList() {
		if c.PeerID == peerID {
			return c.RoomID
		}
	}
	return ""
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
