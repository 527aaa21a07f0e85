// Package telegram sends workflow failure notices to a Telegram chat and
// answers bridge commands from that chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/crewbridge/internal/config"
	"github.com/mtzanidakis/crewbridge/internal/natsbus"
)

type Bot struct {
	bot     *telego.Bot
	handler *th.BotHandler
	svc     Service
	events  *natsbus.Client
	sub     *nats.Subscription
	cfg     config.TelegramConfig
	cancel  context.CancelFunc
}

func NewBot(cfg config.TelegramConfig, svc Service, events *natsbus.Client) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Bot{
		bot:    bot,
		svc:    svc,
		events: events,
		cfg:    cfg,
	}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	if b.events != nil && b.cfg.ChatID != 0 {
		sub, err := b.events.SubscribeEvents(natsbus.TopicEventsWorkflows, func(ev natsbus.Event) {
			b.handleEvent(ctx, ev)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe workflow events: %w", err)
		}
		b.sub = sub
	}

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	b.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()
	slog.Info("telegram bot started", "chat_id", b.cfg.ChatID)

	<-ctx.Done()
	_ = handler.Stop()
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	return nil
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.handler != nil {
		_ = b.handler.Stop()
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID
	if chatID != b.cfg.ChatID {
		slog.Warn("ignoring telegram message from unknown chat", "chat_id", chatID)
		return
	}

	_ = b.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), "typing"))

	reply := handleCommand(ctx, b.svc, msg.Text)
	if err := b.SendMessage(ctx, chatID, reply); err != nil {
		slog.Error("failed to send telegram reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleEvent(ctx context.Context, ev natsbus.Event) {
	text, ok := failureNotice(ev)
	if !ok {
		return
	}
	if err := b.SendMessage(ctx, b.cfg.ChatID, text); err != nil {
		slog.Error("failed to send failure notice", "chat_id", b.cfg.ChatID, "error", err)
	}
}

// failureNotice renders a workflow_failed event. Other events are ignored.
func failureNotice(ev natsbus.Event) (string, bool) {
	if ev.Type != natsbus.EventWorkflowFailed {
		return "", false
	}
	name := stringField(ev.Data, "name")
	if name == "" {
		name = stringField(ev.Data, "workflow")
	}
	text := fmt.Sprintf("Workflow %s failed: %s", name, stringField(ev.Data, "message"))
	if agent := stringField(ev.Data, "agent"); agent != "" {
		text += fmt.Sprintf("\nStep %v (%s): %s", ev.Data["step"], agent, stringField(ev.Data, "details"))
	}
	if id := stringField(ev.Data, "id"); id != "" {
		text += "\nRun: " + id
	}
	return text, true
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
