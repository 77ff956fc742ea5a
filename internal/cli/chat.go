package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/spf13/cobra"
)

// chatSession is the command surface the chat loop needs. The runtime
// provides it; tests use a stub.
type chatSession interface {
	Send(ctx context.Context, text string) error
	SetModel(model string) error
	Model() string
	Show(ctx context.Context) error
}

func newChatCmd(rt *runtime) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "chat <conversation-id>",
		Short: "Chat interactively inside a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := svc.convs.Get(cmd.Context(), args[0]); err != nil {
				return err
			}
			s := &session{rt: rt, svc: svc, convID: args[0], model: model}
			if s.model == "" {
				s.model = svc.gen.DefaultModel()
			}
			fmt.Fprintln(rt.out, "chatkeeper chat (type /help for commands)")
			runChat(cmd.Context(), s, bufio.NewScanner(rt.in), func(a ...any) { fmt.Fprintln(rt.out, a...) })
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model id (default from config)")
	return cmd
}

// runChat reads lines until EOF or /exit. A line starting with "/" is a
// command; anything else is sent as a user message. Handler errors are
// printed and the loop goes on.
//
//	/help           show commands
//	/model [id]     show or switch the model
//	/show           print the transcript
//	/exit | /quit   leave
func runChat(ctx context.Context, s chatSession, scanner *bufio.Scanner, printFn func(...any)) {
	for {
		printFn(fmt.Sprintf("%s> ", s.Model()))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := s.Send(ctx, line); err != nil {
				printFn("error:", err)
			}
			continue
		}

		parts := strings.Fields(line)
		switch parts[0] {
		case "/help":
			printFn("Available commands: /model [id], /show, /exit")
		case "/model":
			if len(parts) < 2 {
				printFn(s.Model())
				continue
			}
			if err := s.SetModel(parts[1]); err != nil {
				printFn("error:", err)
			}
		case "/show":
			if err := s.Show(ctx); err != nil {
				printFn("error:", err)
			}
		case "/exit", "/quit":
			printFn("Bye!")
			return
		default:
			printFn("Unknown command:", parts[0])
		}
	}
}

type session struct {
	rt     *runtime
	svc    *services
	convID string
	model  string
}

func (s *session) Send(ctx context.Context, text string) error {
	return s.rt.converse(ctx, s.svc, s.convID, s.model, models.TextContent(text))
}

func (s *session) SetModel(model string) error {
	for _, m := range s.svc.gen.AllowedModels() {
		if m == model {
			s.model = model
			return nil
		}
	}
	return fmt.Errorf("%w: %q", common.ErrInvalidModel, model)
}

func (s *session) Model() string { return s.model }

func (s *session) Show(ctx context.Context) error {
	v, err := s.svc.convs.Get(ctx, s.convID)
	if err != nil {
		return err
	}
	writeTranscript(s.rt.out, v)
	return nil
}
