// Command chat is a terminal client for the companion relay.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-companion/backend/internal/client"
	"github.com/zhouzirui/z-companion/backend/internal/config"
	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
	"github.com/zhouzirui/z-companion/backend/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var endpoint, storePath string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to your companion from the terminal",
		Long: `Starts an interactive chat with the companion relay.

Plain lines are sent as messages. Commands:
  /clear         forget the conversation
  /name <name>   rename the companion
  /me <name>     set how the companion calls you
  /tone <tone>   gentle, playful, cheerful or calm
  /quit          leave`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			if endpoint != "" {
				cfg.Endpoint = endpoint
			}
			if storePath != "" {
				cfg.StorePath = storePath
			}

			log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			store, err := client.OpenBoltStore(cfg.StorePath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runSession(ctx, cfg.Endpoint, store, cmd.InOrStdin(), cmd.OutOrStdout(), log)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "relay chat endpoint (overrides CHAT_ENDPOINT)")
	cmd.Flags().StringVar(&storePath, "store", "", "history database path (overrides CHAT_STORE)")
	return cmd
}

// printer renders the trailing assistant message incrementally.
type printer struct {
	out     io.Writer
	printed int
}

func (p *printer) render(messages []chat.Message) {
	if len(messages) == 0 {
		p.printed = 0
		return
	}
	last := messages[len(messages)-1]
	if last.Role != chat.RoleAssistant {
		p.printed = 0
		return
	}
	if len(last.Content) < p.printed {
		// The reply was replaced, e.g. by the apology.
		fmt.Fprintln(p.out)
		p.printed = 0
	}
	fmt.Fprint(p.out, last.Content[p.printed:])
	p.printed = len(last.Content)
}

func runSession(ctx context.Context, endpoint string, store client.Store, in io.Reader, out io.Writer, log *slog.Logger) error {
	p := &printer{out: out}
	conv := client.New(endpoint, store, nil, p.render, log)

	cfg := conv.Config()
	fmt.Fprintf(out, "Chatting with %s (%s). Type /quit to leave.\n", cfg.PersonaName, cfg.Tone)
	for _, m := range conv.Messages() {
		fmt.Fprintf(out, "%s: %s\n", m.Role, m.Content)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(conv, line, out); quit {
				return nil
			}
			continue
		}

		p.printed = 0
		err := conv.Send(ctx, line)
		switch {
		case errors.Is(err, client.ErrEmptyInput):
			continue
		case err != nil:
			log.Debug("send failed", slog.String("err", err.Error()))
		}
		fmt.Fprintln(out)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func runCommand(conv *client.Conversation, line string, out io.Writer) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/clear":
		conv.Clear()
		fmt.Fprintln(out, "Conversation cleared.")
	case "/name":
		conv.SetPersonaName(arg)
		fmt.Fprintf(out, "Companion is now %q.\n", conv.Config().PersonaName)
	case "/me":
		conv.SetUserName(arg)
		fmt.Fprintf(out, "I'll call you %q.\n", arg)
	case "/tone":
		conv.SetTone(arg)
		fmt.Fprintf(out, "Tone set to %q.\n", arg)
	default:
		fmt.Fprintf(out, "Unknown command %s.\n", name)
	}
	return false
}
