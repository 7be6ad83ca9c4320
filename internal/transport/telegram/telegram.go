// Package telegram renders notifications into a Telegram chat via long
// polling, with inline buttons as the notification actions.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "ordersentry/internal/runtime/supervisor"
	kit "ordersentry/internal/transport"
	logx "ordersentry/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter is the Telegram notification surface. Inline button presses come
// back as ActionEvents on the channel passed to Start.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.ActionEvent)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and drop reporter; created on Start, cancelled
	// on Stop.
	sup *rtsup.Supervisor

	// droppedActions counts action events dropped because the consumer was
	// slower than the poll loop. Reported periodically, not per event.
	droppedActions uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.ActionEvent
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil {
			return nil
		}
		action, tag := splitCallbackData(cb.Data)
		a.sendAction(kit.ActionEvent{
			CallbackID: cb.ID,
			FromID:     cb.Sender.ID,
			ChatID:     m.Chat.ID,
			MessageID:  m.ID,
			ActionID:   action,
			Tag:        tag,
		})
		return nil
	})
}

// Callback data format: "ntf:<action>:<tag>". Telegram caps callback data
// at 64 bytes, so tags are truncated on send.
const callbackPrefix = "ntf"

func callbackData(action, tag string) string {
	data := callbackPrefix + ":" + action + ":" + tag
	if len(data) > 64 {
		data = data[:64]
	}
	return data
}

func splitCallbackData(data string) (action, tag string) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] != callbackPrefix {
		return "", ""
	}
	action = parts[1]
	if len(parts) == 3 {
		tag = parts[2]
	}
	return action, tag
}

func (a *Adapter) sendAction(ev kit.ActionEvent) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.ActionEvent)
	if out == nil {
		return
	}
	select {
	case out <- ev:
	default:
		atomic.AddUint64(&a.droppedActions, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, actions chan<- kit.ActionEvent) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(actions)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram"))),
	)
	sup := a.sup
	a.runMu.Unlock()

	// Periodic summary for dropped actions.
	sup.Go0("actions.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedActions, 0); n > 0 {
					a.log.Warn("action events dropped (channel full)", logx.Uint64("count", n))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedActions, 0); n > 0 {
					a.log.Warn("action events dropped (channel full)", logx.Uint64("count", n))
				}
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	})

	// telebot's Start() blocks until Stop(); run it under a restart loop so
	// the surface self-heals if the poll loop exits unexpectedly.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started")
		if a.bot != nil {
			a.bot.Start()
		}
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.ActionEvent
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if sup != nil {
		sup.Cancel()
	}
	if a.bot != nil {
		go a.bot.Stop()
	}
	if sup == nil {
		return nil
	}

	// Grace window: keep shutdown snappy even if the long-poll is waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

const textLimit = 4000

// splitText splits long messages into chunks safe to send, preferring
// newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.Target, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			if first.ChatID != 0 {
				return first, ctx.Err()
			}
			return kit.MessageRef{}, ctx.Err()
		default:
		}

		sendOpt := &tele.SendOptions{
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
			ThreadID:              to.ThreadID,
		}
		// Attach markup only to the first message.
		if i == 0 && opt.MarkupAdapter != nil {
			if rm, ok := opt.MarkupAdapter.(*tele.ReplyMarkup); ok {
				sendOpt.ReplyMarkup = rm
			}
		}

		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			if first.ChatID != 0 {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendNotification renders a notification as one HTML message with the
// actions as an inline keyboard row.
func (a *Adapter) SendNotification(ctx context.Context, to kit.Target, n kit.Notification) (kit.MessageRef, error) {
	select {
	case <-ctx.Done():
		return kit.MessageRef{}, ctx.Err()
	default:
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>", escapeHTML(n.Title))
	if n.Body != "" {
		b.WriteString("\n")
		b.WriteString(escapeHTML(n.Body))
	}

	sendOpt := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              to.ThreadID,
		// Urgent alerts ring; everything else arrives silently.
		DisableNotification: !n.RequireInteraction,
	}
	if len(n.Actions) > 0 {
		row := make([]tele.InlineButton, 0, len(n.Actions))
		for _, act := range n.Actions {
			row = append(row, tele.InlineButton{Text: act.Title, Data: callbackData(act.ID, n.Tag)})
		}
		sendOpt.ReplyMarkup = &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{row}}
	}

	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, b.String(), sendOpt)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func (a *Adapter) AnswerAction(ctx context.Context, callbackID string, text string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// Dismiss deletes the rendered notification message.
func (a *Adapter) Dismiss(ctx context.Context, ref kit.MessageRef) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return a.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}})
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
