package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/campuskit/sage/pkg/api"
	"github.com/campuskit/sage/pkg/chat"
	"github.com/campuskit/sage/pkg/config"
	"github.com/campuskit/sage/pkg/controllers"
	"github.com/campuskit/sage/pkg/history"
	"github.com/campuskit/sage/pkg/logger"
	"github.com/campuskit/sage/pkg/stream"
)

// runChat is the interactive loop: read a question, stream the answer into
// the terminal, repeat. The transcript is saved on exit.
func runChat(ctx context.Context) error {
	cfg := config.Get()

	apiClient := api.NewClientWithTimeout(cfg.Server.BaseURL, cfg.Server.Timeout)
	if cfg.Auth.Username != "" {
		if err := apiClient.Login(ctx, cfg.Auth.Username, cfg.Auth.Password); err != nil {
			logger.Warn("login failed: %v", err)
			fmt.Println(noticeStyle.Render("Login failed; continuing without an account."))
		}
	}

	streamClient := stream.NewClient(cfg.Server.BaseURL, apiClient.AccessToken)
	if !cfg.Chat.Streaming {
		streamClient.DisableStreaming()
	}

	controller := controllers.NewChatController(&clientStreamer{client: streamClient}, apiClient)

	printer := newTurnPrinter(os.Stdout, cfg.Chat.ShowThinking)
	controller.SetOnUpdate(func() { printer.render(controller) })
	controller.SetOnNotice(func(err error) {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("(%v)", err)))
	})

	fmt.Println(greetingStyle.Render(chat.DefaultGreeting))
	fmt.Println(thinkingStyle.Render("Type a question, /clear to start over, /quit to leave."))
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Println()
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/quit", "/exit":
			return saveTranscript(cfg.History.Path, controller)
		case "/clear":
			controller.ClearConversation()
			fmt.Println(greetingStyle.Render(chat.ClearedGreeting))
			fmt.Println()
			continue
		}

		printer.begin()
		if err := controller.SendMessage(ctx, input); err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
			continue
		}

		select {
		case <-printer.turnDone():
			fmt.Println()
			printReferences(os.Stdout, controller)
			fmt.Println()
		case <-ctx.Done():
			controller.AbortActive()
			fmt.Println()
			fmt.Println(noticeStyle.Render("Interrupted."))
			return saveTranscript(cfg.History.Path, controller)
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Error("stdin read failed: %v", err)
	}
	return saveTranscript(cfg.History.Path, controller)
}

// saveTranscript persists the conversation. Transcripts without a single
// user message are quietly skipped by the store.
func saveTranscript(path string, controller *controllers.ChatController) error {
	store, err := history.Open(path)
	if err != nil {
		logger.Error("failed to open history store: %v", err)
		return nil
	}
	defer store.Close()

	key, err := store.Save(controller.Conversation())
	if err != nil {
		logger.Error("failed to save conversation: %v", err)
		return nil
	}
	if key != "" {
		fmt.Println(thinkingStyle.Render("Conversation saved."))
	}
	return nil
}

func printReferences(out io.Writer, controller *controllers.ChatController) {
	msgs := controller.Messages()
	if len(msgs) == 0 {
		return
	}
	refs := msgs[len(msgs)-1].References
	if len(refs) == 0 {
		return
	}

	fmt.Fprintln(out, refHeaderStyle.Render("References:"))
	for _, ref := range refs {
		fmt.Fprintf(out, "  - %s %s\n", refTitleStyle.Render(ref.Title), refURLStyle.Render(ref.URL))
	}
}

// turnPrinter renders one streamed turn onto the terminal: a thinking
// indicator while the reply is pending, then each delta as it lands. The
// update callback fires on several goroutines, so all state sits behind a
// mutex.
type turnPrinter struct {
	out          io.Writer
	showThinking bool

	mu       sync.Mutex
	active   bool
	labeled  bool
	thinking bool
	prefix   string
	done     chan struct{}
}

func newTurnPrinter(out io.Writer, showThinking bool) *turnPrinter {
	return &turnPrinter{
		out:          out,
		showThinking: showThinking,
		done:         make(chan struct{}, 1),
	}
}

// begin arms the printer for the next turn.
func (p *turnPrinter) begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	p.labeled = false
	p.thinking = false
	p.prefix = ""
	select {
	case <-p.done:
	default:
	}
}

func (p *turnPrinter) turnDone() <-chan struct{} {
	return p.done
}

func (p *turnPrinter) render(controller *controllers.ChatController) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}

	msgs := controller.Messages()
	if len(msgs) == 0 {
		return
	}
	msg := msgs[len(msgs)-1]
	if !msg.IsAssistant() {
		return
	}

	if msg.Pending {
		if p.showThinking {
			elapsed := time.Duration(msg.ThinkingSeconds) * time.Second
			fmt.Fprintf(p.out, "\r\x1b[K%s", thinkingStyle.Render(fmt.Sprintf("thinking %s", elapsed)))
			p.thinking = true
		}
	} else {
		if p.thinking {
			fmt.Fprint(p.out, "\r\x1b[K")
			p.thinking = false
		}
		if msg.Text != p.prefix {
			if !p.labeled {
				fmt.Fprint(p.out, labelStyle.Render("sage> "))
				p.labeled = true
			}
			if strings.HasPrefix(msg.Text, p.prefix) {
				fmt.Fprint(p.out, msg.Text[len(p.prefix):])
			} else {
				// The reply was replaced wholesale, e.g. by an error notice.
				fmt.Fprintf(p.out, "\n%s", msg.Text)
			}
			p.prefix = msg.Text
		}
	}

	if !controller.IsLoading() {
		p.active = false
		select {
		case p.done <- struct{}{}:
		default:
		}
	}
}
