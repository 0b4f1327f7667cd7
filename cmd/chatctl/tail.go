// cmd/chatctl/tail.go

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/imadgeboyega/kiekky-chat/internal/chatsync"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

var tailReadOnly bool

var tailCmd = &cobra.Command{
	Use:   "tail <conversation-id>",
	Short: "Follow a conversation live and send lines from stdin",
	Long: `Opens a conversation over the websocket stream and prints messages as
they arrive or change. Every line read from stdin is sent as a message
unless --read-only is set. Interrupt to exit.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireToken(); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runTail(ctx, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	tailCmd.Flags().BoolVar(&tailReadOnly, "read-only", false, "do not send stdin lines")
}

// tailPrinter prints each message revision once. Pending messages are
// skipped; the confirmed copy follows under the gateway id.
type tailPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	sync     *chatsync.Synchronizer
	convID   string
	rendered map[string]string
}

func (p *tailPrinter) onChange(c chatsync.Change) {
	if p.sync == nil {
		return
	}
	switch c.Kind {
	case chatsync.ChangeMessages:
		if c.ConversationID == "" || c.ConversationID == p.convID {
			p.flush(p.sync.Messages())
		}
	case chatsync.ChangeTyping:
		if c.ConversationID == p.convID {
			if name := p.sync.TypingUser(p.convID); name != "" {
				p.println("  " + name + " is typing…")
			}
		}
	case chatsync.ChangeNotification:
		if c.Text != "" {
			p.println("! " + c.Text)
		}
	}
}

func (p *tailPrinter) flush(msgs []*messaging.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range msgs {
		if m.Status == messaging.StatusPending {
			continue
		}
		line := formatMessage(m)
		if p.rendered[m.ID] == line {
			continue
		}
		p.rendered[m.ID] = line
		fmt.Fprintln(p.out, line)
	}
}

func (p *tailPrinter) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}

func runTail(ctx context.Context, conversationID string, in io.Reader, out io.Writer) error {
	logger := newLogger()
	stream := chatsync.NewWSStream(wsURL, token, logger)

	printer := &tailPrinter{out: out, convID: conversationID, rendered: make(map[string]string)}
	s := newSynchronizer(stream, printer.onChange)
	printer.sync = s

	streamErr := make(chan error, 1)
	go func() { streamErr <- stream.Run(ctx, s) }()

	if clientCfg.PollInterval > 0 {
		go s.StartPolling(ctx, clientCfg.PollInterval)
	}

	if err := s.LoadConversations(ctx); err != nil {
		return err
	}
	conv, ok := s.Conversation(conversationID)
	if !ok {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	fmt.Fprintf(out, "== %s (%d unread) ==\n", conv.Name, conv.UnreadCount)

	if err := s.OpenConversation(ctx, conversationID); err != nil {
		return err
	}
	printer.flush(s.Messages())

	if !tailReadOnly {
		go readLines(ctx, s, conversationID, in, out)
	}

	select {
	case <-ctx.Done():
		s.StopTyping(context.Background(), conversationID)
		return nil
	case err := <-streamErr:
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("event stream: %w", err)
	}
}

func readLines(ctx context.Context, s *chatsync.Synchronizer, conversationID string, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := s.SendMessage(ctx, conversationID, line, ""); err != nil {
			fmt.Fprintf(out, "! send failed: %v\n", err)
		}
	}
}
