package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/server/conversations"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/spf13/cobra"
)

// readFile is a test seam.
var readFile = os.ReadFile

func newGenerateCmd(rt *runtime) *cobra.Command {
	var model, convID string
	var images []string
	cmd := &cobra.Command{
		Use:   "generate <prompt>...",
		Short: "Stream a model reply to a prompt",
		Long: "Stream a model reply to a prompt. With --conversation the prompt is sent\n" +
			"with the stored transcript and both the prompt and the reply are saved.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := rt.services(cmd.Context())
			if err != nil {
				return err
			}
			content, err := promptContent(strings.Join(args, " "), images)
			if err != nil {
				return err
			}
			if model == "" {
				model = svc.gen.DefaultModel()
			}
			if convID == "" {
				_, err := rt.stream(cmd.Context(), svc, []models.Message{{Sender: models.SenderUser, Content: content}}, model)
				return err
			}
			return rt.converse(cmd.Context(), svc, convID, model, content)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model id (default from config)")
	cmd.Flags().StringVar(&convID, "conversation", "", "conversation to continue and save into")
	cmd.Flags().StringArrayVar(&images, "image", nil, "attach an image file (repeatable)")
	return cmd
}

// converse saves the prompt, streams a reply over the whole transcript and
// saves the reply. A failed generation leaves only the prompt saved.
func (rt *runtime) converse(ctx context.Context, svc *services, convID, model string, content models.Content) error {
	res, err := svc.convs.Append(ctx, conversations.AppendRequest{
		ConversationID: convID,
		Sender:         models.SenderUser,
		Content:        content,
	})
	if err != nil {
		return err
	}
	if res.Warning != "" {
		fmt.Fprintf(rt.errOut, "warning: %s\n", res.Warning)
	}

	v, err := svc.convs.Get(ctx, convID)
	if err != nil {
		return err
	}

	reply, err := rt.stream(ctx, svc, v.Messages, model)
	if err != nil {
		return err
	}

	_, err = svc.convs.Append(ctx, conversations.AppendRequest{
		ConversationID: convID,
		Sender:         models.SenderAI,
		Content:        models.TextContent(reply),
		Model:          model,
	})
	return err
}

// stream writes fragments to out as they arrive and returns the full reply.
func (rt *runtime) stream(ctx context.Context, svc *services, msgs []models.Message, model string) (string, error) {
	var b strings.Builder
	for f := range svc.gen.Generate(ctx, msgs, model) {
		fmt.Fprint(rt.out, f.String())
		if f.IsError() {
			fmt.Fprintln(rt.out)
			return b.String(), fmt.Errorf("%w: %s", common.ErrProvider, f.Text)
		}
		b.WriteString(f.Text)
	}
	fmt.Fprintln(rt.out)
	return b.String(), nil
}

// promptContent builds plain text content, or multipart content when images
// are attached. Images are inlined as data URLs.
func promptContent(text string, images []string) (models.Content, error) {
	if len(images) == 0 {
		return models.TextContent(text), nil
	}
	parts := []models.Part{{Type: models.PartText, Text: text}}
	for _, path := range images {
		data, err := readFile(path)
		if err != nil {
			return models.Content{}, fmt.Errorf("read image %s: %w", filepath.Base(path), err)
		}
		mt := http.DetectContentType(data)
		if !strings.HasPrefix(mt, "image/") {
			return models.Content{}, fmt.Errorf("%s is not an image (%s)", filepath.Base(path), mt)
		}
		parts = append(parts, models.Part{
			Type:     models.PartImage,
			Image:    "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data),
			MimeType: mt,
		})
	}
	return models.PartsContent(parts...), nil
}
