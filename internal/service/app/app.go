package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"campuschat/internal/conversation"
	"campuschat/internal/model"
	"campuschat/internal/utils/log"
)

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField
		status  *tview.TextView

		conv   *conversation.Sync
		selfID string
		peerID string
	}
)

func NewApp(conv *conversation.Sync) *App {
	return &App{
		app:  tview.NewApplication(),
		conv: conv,
	}
}

func (a *App) Run(ctx context.Context, selfID, peerID string) error {
	a.selfID = selfID
	a.peerID = peerID

	if err := a.conv.Open(ctx, selfID, peerID); err != nil {
		return err
	}

	a.conv.SetOnChange(func() {
		a.app.QueueUpdateDraw(a.render)
	})

	a.renderUI(ctx)
	return nil
}

func (a *App) Stop() {
	a.conv.Close()
	a.app.Stop()
}

// blocking function
func (a *App) renderUI(ctx context.Context) {
	a.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Chat with %s ", a.peerID))

	a.status = tview.NewTextView().SetDynamicColors(true)

	a.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	a.input.SetBorder(true).SetTitle(" New Message (/gif <url>, /react <n> <emoji>) ")

	a.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := a.input.GetText()
		if text == "" {
			return
		}
		a.input.SetText("")

		go func(line string) {
			if err := a.dispatch(ctx, line); err != nil {
				// Give the draft back so nothing typed is lost.
				a.app.QueueUpdateDraw(func() {
					a.input.SetText(line)
					a.status.SetText(fmt.Sprintf("[red]send failed: %v[-]", err))
				})
				log.Error("send failed", zap.Error(err))
			}
		}(text)
	})

	a.render()

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.chatbox, 0, 1, false).
		AddItem(a.status, 1, 0, false).
		AddItem(a.input, 3, 0, true)

	if err := a.app.SetRoot(layout, true).SetFocus(a.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

func (a *App) dispatch(ctx context.Context, line string) error {
	switch {
	case strings.HasPrefix(line, "/gif "):
		_, err := a.conv.SendGif(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/gif ")), "")
		return err

	case strings.HasPrefix(line, "/react "):
		fields := strings.Fields(strings.TrimPrefix(line, "/react "))
		if len(fields) != 2 {
			return fmt.Errorf("usage: /react <message number> <emoji>")
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return fmt.Errorf("bad message number %q", fields[0])
		}
		messages := a.conv.Messages()
		if n < 1 || n > len(messages) {
			return fmt.Errorf("no message %d", n)
		}
		return a.conv.ToggleReaction(ctx, messages[n-1].ID, fields[1], a.selfID)

	default:
		_, err := a.conv.SendText(ctx, line, "")
		return err
	}
}

func (a *App) render() {
	if a.chatbox == nil {
		return
	}

	a.chatbox.Clear()
	for i, msg := range a.conv.Messages() {
		who := fmt.Sprintf("[green]%s:[-]", msg.SenderID)
		if msg.SenderID == a.selfID {
			who = "[yellow]You:[-]"
		}

		body := msg.Content
		switch {
		case msg.Undecryptable:
			body = "[red]<message could not be decrypted>[-]"
		case msg.MessageType == model.MessageTypeImage:
			body = fmt.Sprintf("[image] %s", msg.AttachmentURL)
		case msg.MessageType == model.MessageTypeGif:
			body = fmt.Sprintf("[gif] %s", msg.AttachmentURL)
		}

		fmt.Fprintf(a.chatbox, "%3d %s %s%s\n", i+1, who, body, reactionSummary(msg.Reactions))
	}
	a.chatbox.ScrollToEnd()
}

func reactionSummary(reactions []model.Reaction) string {
	groups := conversation.GroupByEmoji(reactions)
	if len(groups) == 0 {
		return ""
	}

	parts := make([]string, 0, len(groups))
	for _, g := range groups {
		parts = append(parts, fmt.Sprintf("%s %d", g.Emoji, g.Count))
	}
	return "  [" + strings.Join(parts, "  ") + "]"
}
