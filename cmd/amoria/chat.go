package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	amoria "github.com/amoria-app/amoria-go"
	"github.com/spf13/cobra"
)

var chatVerbose bool

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVar(&chatVerbose, "verbose", false, "log connection events to stderr")
}

var chatCmd = &cobra.Command{
	Use:   "chat <match-id>",
	Short: "Open an interactive chat with a match",
	Long: "Open a live chat session with a match. Incoming messages render as they\n" +
		"arrive; anything you type is sent as a text message.\n\n" +
		"Commands:\n" +
		"  /photo <path>   send a photo\n" +
		"  /superlike      send a super like\n" +
		"  /quit           leave the chat",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matchID := args[0]
		client, cfg := getClient()
		if cfg.Auth.UserID == "" {
			return fmt.Errorf("no user id in config; run 'amoria login <email>' again")
		}

		level := slog.LevelError
		if chatVerbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		match, err := client.Matches.Get(ctx, matchID)
		cancel()
		if err != nil {
			return fmt.Errorf("load match: %w", err)
		}

		// OnChange can fire from the socket goroutine before OpenSession
		// returns; nothing renders until the session pointer is stored.
		var current atomic.Pointer[amoria.ChatSession]
		session, err := amoria.OpenSession(context.Background(), client, cfg.Auth.UserID, *match, &amoria.SessionConfig{
			Logger: logger,
			OnChange: func() {
				if s := current.Load(); s != nil {
					renderChat(os.Stdout, s)
				}
			},
		})
		if err != nil {
			return fmt.Errorf("open chat: %w", err)
		}
		defer session.Close()
		current.Store(session)

		fmt.Printf("Chatting with %s. Type a message, or /quit to leave.\n\n", match.Partner.Name)
		renderChat(os.Stdout, session)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if done, err := runChatCommand(session, line); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			} else if done {
				break
			}
		}
		return scanner.Err()
	},
}

// runChatCommand dispatches one stdin line. It returns true when the
// user asked to leave.
func runChatCommand(session *amoria.ChatSession, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		session.SendText(context.Background(), line)
		return false, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/q":
		return true, nil
	case "/photo":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /photo <path>")
		}
		data, err := os.ReadFile(fields[1])
		if err != nil {
			return false, fmt.Errorf("read photo: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if _, err := session.SendPhoto(ctx, data, filepath.Base(fields[1])); err != nil {
			return false, fmt.Errorf("send photo: %w", err)
		}
		return false, nil
	case "/superlike":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := session.SendSuperLike(ctx); err != nil {
			return false, fmt.Errorf("send super like: %w", err)
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

// renderChat clears the terminal and redraws the conversation.
func renderChat(w *os.File, s *amoria.ChatSession) {
	fmt.Fprint(w, "\033[2J\033[H")

	partner := s.Partner()
	header := partner.Name
	switch {
	case partner.IsTyping:
		header += " is typing..."
	case partner.IsOnline:
		header += " (online)"
	case !partner.LastSeen.IsZero():
		header += " (last seen " + partner.LastSeen.Local().Format("Jan 2 15:04") + ")"
	}
	if s.ConnState() != amoria.StateOpen {
		header += " [reconnecting]"
	}
	fmt.Fprintf(w, "%s\n%s\n", header, strings.Repeat("-", len(header)))

	for _, msg := range s.Messages() {
		fmt.Fprintln(w, formatMessage(&msg, partner.Name))
	}
	fmt.Fprint(w, "> ")
}

func formatMessage(msg *amoria.Message, partnerName string) string {
	who := partnerName
	if msg.IsOwn {
		who = "you"
	}

	var body string
	switch msg.Kind {
	case amoria.KindPhoto:
		body = "[photo] " + msg.PhotoURL
	case amoria.KindSuperLike:
		body = "[super like]"
	default:
		body = msg.Text
	}

	line := fmt.Sprintf("%s %s: %s", msg.CreatedAt.Local().Format("15:04"), who, body)
	if msg.IsOwn {
		line += " " + statusMark(msg.Status)
	}
	if msg.Reaction != "" {
		line += " [" + msg.Reaction + "]"
	}
	return line
}

func statusMark(status amoria.MessageStatus) string {
	switch status {
	case amoria.StatusSending:
		return "…"
	case amoria.StatusSent:
		return "✓"
	case amoria.StatusDelivered:
		return "✓✓"
	case amoria.StatusRead:
		return "✓✓ read"
	case amoria.StatusFailed:
		return "✗ failed"
	default:
		return ""
	}
}
