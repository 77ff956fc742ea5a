package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/dmitrijs2005/chatkeeper/internal/server/conversations"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newConversationCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Manage conversations",
	}
	cmd.AddCommand(
		newConvCreateCmd(rt),
		newConvListCmd(rt),
		newConvShowCmd(rt),
		newConvAppendCmd(rt),
		newConvRenameCmd(rt),
		newConvDeleteCmd(rt),
	)
	return cmd
}

func newConvCreateCmd(rt *runtime) *cobra.Command {
	var userID, title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start an empty conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			c, err := svc.convs.Create(cmd.Context(), userID, title, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(rt.out, c.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	cmd.Flags().StringVar(&title, "title", "", "conversation title")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newConvListCmd(rt *runtime) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's conversations, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			views, err := svc.convs.List(cmd.Context(), userID)
			if err != nil {
				return err
			}
			for _, v := range views {
				writeSummary(rt.out, v)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// renderStyle picks the glamour style; plain output when not on a terminal.
var renderStyle = func(w io.Writer) string {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return "dark"
	}
	return "notty"
}

func newConvShowCmd(rt *runtime) *cobra.Command {
	var render bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			v, err := svc.convs.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !render {
				writeTranscript(rt.out, v)
				return nil
			}
			styled, err := glamour.Render(transcriptMarkdown(v), renderStyle(rt.out))
			if err != nil {
				return err
			}
			fmt.Fprint(rt.out, styled)
			return nil
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "render messages as markdown")
	return cmd
}

func newConvAppendCmd(rt *runtime) *cobra.Command {
	var sender, model, text string
	cmd := &cobra.Command{
		Use:   "append <id>",
		Short: "Append one message to a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			res, err := svc.convs.Append(cmd.Context(), conversations.AppendRequest{
				ConversationID: args[0],
				Content:        models.TextContent(text),
				Sender:         models.Sender(sender),
				Model:          model,
			})
			if err != nil {
				return err
			}
			if res.Warning != "" {
				fmt.Fprintf(rt.errOut, "warning: %s\n", res.Warning)
			}
			fmt.Fprintln(rt.out, res.Message.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", string(models.SenderUser), "user or ai")
	cmd.Flags().StringVar(&model, "model", "", "model that produced an ai message")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newConvRenameCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Change a conversation title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			return svc.convs.Rename(cmd.Context(), args[0], args[1])
		},
	}
}

func newConvDeleteCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.convs.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(rt.out, "deleted")
			return nil
		},
	}
}

func writeSummary(w io.Writer, v *conversations.View) {
	title := v.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%d messages\t%s\n",
		v.ID, v.UpdatedAt.Format(time.RFC3339), title, len(v.Messages), v.Model)
	if v.Error != "" {
		fmt.Fprintf(w, "\t! %s\n", v.Error)
	}
}

func writeTranscript(w io.Writer, v *conversations.View) {
	writeSummary(w, v)
	for _, m := range v.Messages {
		fmt.Fprintf(w, "[%s] %s\n", speaker(m), messageText(m))
	}
}

func transcriptMarkdown(v *conversations.View) string {
	var b strings.Builder
	title := v.Title
	if title == "" {
		title = "Untitled"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if v.Error != "" {
		fmt.Fprintf(&b, "> %s\n\n", v.Error)
	}
	for _, m := range v.Messages {
		fmt.Fprintf(&b, "**%s**\n\n%s\n\n", speaker(m), messageText(m))
	}
	return b.String()
}

func speaker(m models.Message) string {
	if m.Sender == models.SenderAI && m.Model != "" {
		return fmt.Sprintf("ai %s", m.Model)
	}
	return string(m.Sender)
}

// messageText flattens content for display, marking non-text parts.
func messageText(m models.Message) string {
	if !m.Content.IsMultipart() {
		return m.Content.Text
	}
	var parts []string
	for _, p := range m.Content.Parts {
		switch p.Type {
		case models.PartText:
			parts = append(parts, p.Text)
		case models.PartImage:
			parts = append(parts, "[image]")
		case models.PartFile:
			parts = append(parts, fmt.Sprintf("[file: %s]", p.Filename))
		}
	}
	return strings.Join(parts, " ")
}
