package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/chat"
	"github.com/bizlens/bizlens/internal/client"
	"github.com/bizlens/bizlens/internal/domain"
	"github.com/bizlens/bizlens/internal/preset"
	"github.com/bizlens/bizlens/internal/view"
)

// canvasFlushWindow coalesces rapid manual edits into one remote patch.
const canvasFlushWindow = 400 * time.Millisecond

func chatCmd() *cobra.Command {
	var sessionID, agentID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive consulting chat",
		Long: `Start or resume a consulting session. Inside the chat:

  /canvas           show the current canvas
  /edit <字段> <值>  edit a canvas field by hand
  /check <n>        toggle an action-list item
  /new              start a fresh session
  /quit             leave (pending edits are flushed)

Plain input is sent to the consultant. Numbers 1-3 pick a quick reply.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(sessionID, agentID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID to resume (default: new session)")
	cmd.Flags().StringVar(&agentID, "agent", preset.DefaultID, "agent preset (gxx or bmc)")
	return cmd
}

type chatSession struct {
	client  *client.Client
	view    *view.View
	preset  *preset.Preset
	session string
}

func runChat(sessionID, agentID string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	p, ok := preset.Get(agentID)
	if !ok {
		return fmt.Errorf("unknown agent preset %q", agentID)
	}

	resuming := sessionID != ""
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	cs := &chatSession{
		client:  c,
		view:    view.New(c, sessionID, p, canvasFlushWindow),
		preset:  p,
		session: sessionID,
	}
	defer cs.view.Close()

	if resuming {
		if err := cs.restore(); err != nil {
			return err
		}
	} else {
		cs.welcome()
	}
	renderCanvas(os.Stdout, cs.preset, cs.view.Canvas())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		cs.printPrompt()
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			cs.view.Flush()
			return nil
		case line == "/canvas":
			renderCanvas(os.Stdout, cs.preset, cs.view.Canvas())
		case line == "/new":
			cs.view.Close()
			cs.session = uuid.NewString()
			cs.view = view.New(cs.client, cs.session, cs.preset, canvasFlushWindow)
			cs.welcome()
		case strings.HasPrefix(line, "/edit "):
			cs.editField(strings.TrimPrefix(line, "/edit "))
		case strings.HasPrefix(line, "/check "):
			cs.toggleAction(strings.TrimPrefix(line, "/check "))
		case strings.HasPrefix(line, "/"):
			fmt.Println("未知命令。可用: /canvas /edit /check /new /quit")
		default:
			if reply, ok := cs.pickReply(line); ok {
				line = reply
			}
			cs.sendTurn(line, false)
		}
	}
}

// printPrompt shows the guided input hint for the current canvas step until
// the diagnosis is complete.
func (cs *chatSession) printPrompt() {
	if cs.preset.ID == preset.GaoXiaoxinID {
		rec := cs.view.Canvas()
		if !preset.Complete(rec) {
			pendingColor.Printf("\n(%s)", preset.InputPlaceholder(rec))
		}
	}
	fmt.Print("\n> ")
}

func (cs *chatSession) restore() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := cs.view.Restore(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		cs.view.SeedDefaults()
		cs.welcome()
		return nil
	case errors.Is(err, domain.ErrForbidden):
		return fmt.Errorf("session %s belongs to a different identity", cs.session)
	case err != nil:
		return err
	}

	for _, msg := range cs.view.Messages() {
		if msg.Content == "" {
			continue
		}
		prefix := "你"
		if msg.Role == "assistant" {
			prefix = "顾问"
		}
		fmt.Printf("%s: %s\n", prefix, msg.Content)
	}
	return nil
}

func (cs *chatSession) welcome() {
	fmt.Printf("会话 %s (%s)\n\n", cs.session, cs.preset.Name)
	for _, msg := range cs.preset.WelcomeMessages {
		fmt.Printf("顾问: %s\n", msg)
	}
}

// sendTurn streams one turn and folds its events into the local view.
func (cs *chatSession) sendTurn(message string, auto bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cs.view.AppendMessage(canvas.ChatMessage{
		ID:      uuid.NewString(),
		Role:    "user",
		Content: message,
		Auto:    auto,
	})

	req := chat.TurnRequest{
		SessionID: cs.session,
		PresetID:  cs.preset.ID,
		Message:   message,
		Auto:      auto,
	}

	var (
		text          strings.Builder
		toolPayloads  []canvas.Record
		canvasChanged bool
	)
	fmt.Print("顾问: ")
	for ev, err := range cs.client.Turn(ctx, req) {
		if err != nil {
			fmt.Printf("\n[错误] %v\n", err)
			return
		}
		switch ev.Type {
		case chat.EventText:
			fmt.Print(ev.Text)
			text.WriteString(ev.Text)
		case chat.EventCanvas:
			cs.view.SetCanvas(ev.Canvas)
			canvasChanged = true
			toolPayloads = append(toolPayloads, ev.Canvas)
		}
	}
	fmt.Println()

	cs.view.AppendMessage(assistantMessage(text.String(), toolPayloads, auto))
	if canvasChanged {
		renderCanvas(os.Stdout, cs.preset, cs.view.Canvas())
	}

	cs.maybeAutoContinue()
}

// assistantMessage builds the local transcript entry for a streamed reply.
func assistantMessage(text string, payloads []canvas.Record, auto bool) canvas.ChatMessage {
	msg := canvas.ChatMessage{
		ID:        uuid.NewString(),
		Role:      "assistant",
		Content:   canvas.SanitizeText(text),
		Auto:      auto,
		CreatedAt: time.Now().Unix(),
	}
	for _, payload := range payloads {
		raw, err := json.Marshal(canvas.ToolInvocation{Name: canvas.CanvasToolName, Payload: payload})
		if err != nil {
			continue
		}
		msg.ToolInvocations = append(msg.ToolInvocations, raw)
	}
	return msg
}

// maybeAutoContinue sends one flagged continuation turn when the consultant
// replied with only a canvas update.
func (cs *chatSession) maybeAutoContinue() {
	id, ok := cs.view.AutoContinueTarget()
	if !ok {
		return
	}
	cs.view.MarkAutoContinued(id)
	fmt.Printf("(画布已更新，%s 后自动继续...)\n", view.AutoContinueDelay)
	time.Sleep(view.AutoContinueDelay)
	cs.sendTurn(view.AutoContinuePrompt, true)
}

func (cs *chatSession) editField(input string) {
	field, value, ok := strings.Cut(strings.TrimSpace(input), " ")
	if !ok || field == "" || strings.TrimSpace(value) == "" {
		fmt.Println("用法: /edit <字段> <值>")
		return
	}
	merged := cs.view.ApplyPatch(canvas.Record{field: strings.TrimSpace(value)})
	renderCanvas(os.Stdout, cs.preset, merged)
}

func (cs *chatSession) toggleAction(input string) {
	idx, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || idx < 1 {
		fmt.Println("用法: /check <序号>")
		return
	}
	rec := cs.view.Canvas()
	actions := canvas.CoerceActionList(rec[canvas.FieldActionList])
	if idx > len(actions) {
		fmt.Printf("行动清单只有 %d 项\n", len(actions))
		return
	}
	checked, _ := rec[canvas.FieldActionChecked].([]bool)
	next := make([]bool, len(actions))
	copy(next, checked)
	next[idx-1] = !next[idx-1]

	merged := cs.view.ApplyPatch(canvas.Record{canvas.FieldActionChecked: next})
	renderCanvas(os.Stdout, cs.preset, merged)
}

// pickReply maps a bare number onto the matching suggested quick reply.
func (cs *chatSession) pickReply(line string) (string, bool) {
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 {
		return "", false
	}
	replies := preset.SuggestedReplies(cs.view.Canvas())
	if len(replies) == 0 {
		replies = preset.FallbackSuggestedReplies(cs.view.Canvas())
	}
	if n > len(replies) {
		return "", false
	}
	return replies[n-1], true
}
