// live-chat CLI - command line client for a live-chat server
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/midlaj1055/live-chat/clients/go/livechat"
)

var client *livechat.Client

var rootCmd = &cobra.Command{
	Use:   "live-chat",
	Short: "Command line client for live-chat",
	Long: `live-chat signs in with a phone number and reads and writes
one-to-one conversations over the REST API.

Environment:
  LIVE_CHAT_URL      Server URL (default: http://localhost:8080)
  LIVE_CHAT_CONFIG   Session directory (default: ~/.live-chat)`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		url, _ := cmd.Flags().GetString("url")
		client = livechat.NewClient(url)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().String("url", os.Getenv("LIVE_CHAT_URL"), "server URL")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout")

	loginCmd.Flags().String("code", "", "one-time code; prompts when omitted")
	sendCmd.Flags().String("reply", "", "id of the message to reply to")

	rootCmd.AddCommand(healthCmd, statsCmd, loginCmd, logoutCmd, meCmd, usersCmd, whoCmd,
		presenceCmd, readCmd, sendCmd, deleteCmd)
}

func ctxFor(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(cmd.Context(), timeout)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctxFor(cmd)
		defer cancel()
		resp, err := client.Health(ctx)
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show account and presence counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctxFor(cmd)
		defer cancel()
		resp, err := client.Stats(ctx)
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <phone>",
	Short: "Sign in with a one-time code sent to an E.164 phone number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctxFor(cmd)
		defer cancel()
		phone := args[0]

		code, _ := cmd.Flags().GetString("code")
		if code == "" {
			if err := client.StartPhoneSignIn(ctx, phone); err != nil {
				return err
			}
			fmt.Print("Code: ")
			if _, err := fmt.Scanln(&code); err != nil {
				return err
			}
		}

		resp, err := client.VerifyPhoneSignIn(ctx, phone, strings.TrimSpace(code))
		if err != nil {
			return err
		}
		fmt.Printf("Signed in as %s (session valid until %s)\n", resp.Account.ID, resp.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the saved session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctxFor(cmd)
		defer cancel()
		return client.Logout(ctx)
	},
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the signed-in account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctxFor(cmd)
		defer cancel()
		resp, err := client.Me(ctx)
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List other participants and their status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctxFor(cmd)
		defer cancel()
		ps, err := client.Directory(ctx)
		if err != nil {
			return err
		}
		for _, p := range ps {
			fmt.Printf("  %s  %-24s %s\n", p.ID, p.DisplayName, p.Status)
		}
		return nil
	},
}

var whoCmd = &cobra.Command{
	Use:   "who <participant_id>",
	Short: "Show one participant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctxFor(cmd)
		defer cancel()
		resp, err := client.Who(ctx, args[0])
		if err != nil {
			return err
		}
		printJSON(resp)
		return nil
	},
}

var presenceCmd = &cobra.Command{
	Use:       "presence <online|offline>",
	Short:     "Set your presence",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"online", "offline"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctxFor(cmd)
		defer cancel()
		return client.SetPresence(ctx, args[0] == "online")
	},
}

var readCmd = &cobra.Command{
	Use:   "read <peer_id>",
	Short: "Read the conversation with a participant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctxFor(cmd)
		defer cancel()
		tl, err := client.Timeline(ctx, args[0])
		if err != nil {
			return err
		}
		for _, item := range tl.Items {
			if item.Kind == "divider" {
				fmt.Printf("-- %s --\n", item.Label)
				continue
			}
			printMessage(item)
		}
		return nil
	},
}

func printMessage(item livechat.TimelineItem) {
	m := item.Message
	arrow := "<"
	if item.Direction == "outgoing" {
		arrow = ">"
	}
	if m.ReplyTo != nil {
		fmt.Printf("         | %s\n", m.ReplyTo.Text)
	}
	fmt.Printf("%8s %s %s  [%s]\n", item.Time, arrow, m.Text, m.ID)
}

var sendCmd = &cobra.Command{
	Use:   "send <peer_id> <message>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctxFor(cmd)
		defer cancel()
		reply, _ := cmd.Flags().GetString("reply")
		msg, err := client.Send(ctx, args[0], strings.Join(args[1:], " "), reply)
		if err != nil {
			return err
		}
		fmt.Printf("Sent: %s\n", msg.ID)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <peer_id> <message_id>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctxFor(cmd)
		defer cancel()
		return client.Delete(ctx, args[0], args[1])
	},
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
