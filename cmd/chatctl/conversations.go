// cmd/chatctl/conversations.go

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/imadgeboyega/kiekky-chat/internal/chatsync"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations with unread counts",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}
		sync := newSynchronizer(nil, nil)
		if err := sync.LoadConversations(cmd.Context()); err != nil {
			return err
		}
		printConversations(cmd.OutOrStdout(), sync.Conversations())
		return nil
	},
}

var sendReplyTo string

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>...",
	Short: "Send a message over REST",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}
		client := chatsync.NewRESTClient(apiURL, token)
		msg, err := client.SendMessage(cmd.Context(), &messaging.SendMessageRequest{
			ConversationID: args[0],
			Content:        strings.Join(args[1:], " "),
			ReplyToID:      sendReplyTo,
			ClientID:       uuid.NewString(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatMessage(msg))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Search messages in your conversations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}
		results, err := newSynchronizer(nil, nil).SearchMessages(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "no matches")
			return nil
		}
		for _, r := range results {
			fmt.Fprintf(out, "[%s] %s\n", r.ConversationName, formatMessage(r.Message))
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "id of the message being answered")
}

func printConversations(out io.Writer, convs []*messaging.Conversation) {
	if len(convs) == 0 {
		fmt.Fprintln(out, "no conversations")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tUNREAD\tLAST")
	for _, c := range convs {
		last := ""
		if c.LastMessage != nil {
			last = c.LastMessage.Content
			if c.LastMessage.Deleted {
				last = chatsync.DeletedPlaceholder
			}
		}
		unread := fmt.Sprint(c.UnreadCount)
		if c.IsMuted {
			unread += " (muted)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Kind, unread, truncate(last, 40))
	}
	w.Flush()
}

// formatMessage renders one line per message, flagging local send state.
func formatMessage(m *messaging.Message) string {
	var b strings.Builder
	b.WriteString(m.CreatedAt.Local().Format("15:04"))
	b.WriteString(" ")
	b.WriteString(m.Sender.Name())
	b.WriteString(": ")
	b.WriteString(chatsync.DisplayContent(m))

	if m.EditedAt != nil && !m.IsDeleted() {
		b.WriteString(" (edited)")
	}
	if m.IsPinned {
		b.WriteString(" [pinned]")
	}
	if len(m.Reactions) > 0 {
		counts := make(map[string]int)
		var order []string
		for _, r := range m.Reactions {
			if counts[r.Emoji] == 0 {
				order = append(order, r.Emoji)
			}
			counts[r.Emoji]++
		}
		for _, e := range order {
			fmt.Fprintf(&b, " %s%d", e, counts[e])
		}
	}
	switch m.Status {
	case messaging.StatusPending:
		b.WriteString(" …")
	case messaging.StatusFailed:
		b.WriteString(" (failed)")
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
