// Package telegram bridges Telegram long polling into the message bus.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"agp/pkg/bus"
	"agp/pkg/channel"
	"agp/pkg/config"
)

const channelName = "telegram"
const messagePreviewLimit = 240

// maxMessageLength is Telegram's hard limit per message.
const maxMessageLength = 4096

const (
	unauthorizedReply = "Sorry, you're not authorized to use this bot."
	busyReply         = "I'm a bit busy right now, please try again in a moment."
	startReply        = "Hi! I'm agp, your personal assistant.\n\nJust send me a message and I'll respond."
	helpReply         = "Available commands:\n\n/start - Start the bot\n/help - Show this help\n/reset - Reset conversation\n\nJust send any message to chat with me."
)

// Adapter connects one Telegram bot to the gateway. Inbound updates
// are published to the bus; outbound delivery happens through Send,
// driven by the channel manager's dispatch loop.
type Adapter struct {
	cfg       config.TelegramConfig
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
	log       *slog.Logger

	mu      sync.Mutex
	bot     *telego.Bot
	cancel  context.CancelFunc
	running atomic.Bool
}

// NewAdapter validates the Telegram configuration and constructs an
// adapter. The adapter is idle until Start.
func NewAdapter(cfg config.TelegramConfig, b *bus.MessageBus, log *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("channels.telegram.token is required")
	}
	if b == nil {
		return nil, errors.New("message bus is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		bus:       b,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// NewFactory returns a factory the channel manager can use to rebuild
// the adapter after a crash.
func NewFactory(cfg config.TelegramConfig, b *bus.MessageBus, log *slog.Logger) channel.Factory {
	return func() (channel.Channel, error) {
		return NewAdapter(cfg, b, log)
	}
}

func (a *Adapter) Name() string {
	return channelName
}

// Start connects to Telegram and spawns the update pump. The running
// flag stays set until Stop is called or the pump dies.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running.Load() {
		return nil
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	updates, err := bot.UpdatesViaLongPolling(pumpCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	a.bot = bot
	a.cancel = cancel
	a.running.Store(true)
	a.log.Info("Telegram channel started")

	go a.pump(pumpCtx, bot, updates)

	return nil
}

// Stop cancels long polling. Safe to call on a stopped adapter.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.running.Store(false)

	return nil
}

func (a *Adapter) Running() bool {
	return a.running.Load()
}

// IsAllowed reports whether the sender passes the allow list. An empty
// list admits everyone.
func (a *Adapter) IsAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// pump turns Telegram updates into inbound bus messages until the
// updates channel closes. A pump that exits for any reason clears the
// running flag so the manager notices and rebuilds the adapter.
func (a *Adapter) pump(ctx context.Context, bot *telego.Bot, updates <-chan telego.Update) {
	defer a.running.Store(false)

	for update := range updates {
		message := update.Message
		if message == nil || message.From == nil {
			continue
		}

		senderID := strconv.FormatInt(message.From.ID, 10)
		chatID := message.Chat.ID

		if !a.IsAllowed(senderID) {
			a.log.Debug("Rejected message from unauthorized sender", "sender_id", senderID)
			a.reply(ctx, bot, chatID, unauthorizedReply)
			continue
		}

		content := strings.TrimSpace(message.Text)
		if content == "" {
			content = strings.TrimSpace(message.Caption)
		}
		if content == "" {
			continue
		}

		if strings.HasPrefix(content, "/") {
			a.handleCommand(ctx, bot, message, senderID, content)
			continue
		}

		a.publishInbound(ctx, bot, message, senderID, content, nil)
	}

	a.log.Info("Telegram update pump stopped")
}

func (a *Adapter) handleCommand(ctx context.Context, bot *telego.Bot, message *telego.Message, senderID string, content string) {
	command := strings.Fields(content)[0]

	switch command {
	case "/start":
		a.reply(ctx, bot, message.Chat.ID, startReply)
	case "/help":
		a.reply(ctx, bot, message.Chat.ID, helpReply)
	case "/reset":
		a.publishInbound(ctx, bot, message, senderID, "/reset", map[string]string{"command": "reset"})
	default:
		a.log.Debug("Ignoring unknown command", "command", command)
	}
}

func (a *Adapter) publishInbound(ctx context.Context, bot *telego.Bot, message *telego.Message, senderID string, content string, metadata map[string]string) {
	chatID := strconv.FormatInt(message.Chat.ID, 10)

	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["message_id"] = strconv.Itoa(message.MessageID)

	inbound := bus.InboundMessage{
		Channel:   channelName,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	if !a.bus.PublishInbound(inbound) {
		a.log.Warn("Inbound message rejected by bus", "chat_id", chatID, "sender_id", senderID)
		a.reply(ctx, bot, message.Chat.ID, busyReply)
		return
	}

	a.log.Info("Received message", "chat_id", chatID, "sender_id", senderID, "content", previewText(content))

	// The agent takes a while; one typing action keeps the chat alive.
	if err := bot.SendChatAction(ctx, tu.ChatAction(tu.ID(message.Chat.ID), telego.ChatActionTyping)); err != nil && ctx.Err() == nil {
		a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
	}
}

// Send delivers an outbound message, splitting text that exceeds
// Telegram's length limit and attaching any media files.
func (a *Adapter) Send(ctx context.Context, msg bus.OutboundMessage) error {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()

	if bot == nil {
		return errors.New("telegram adapter is not started")
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.ChatID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	if content := strings.TrimSpace(msg.Content); content != "" {
		a.log.Info("Sending message", "chat_id", msg.ChatID, "content", previewText(content))
		for _, chunk := range splitMessage(content) {
			if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
				return fmt.Errorf("send telegram message: %w", err)
			}
		}
	}

	for _, path := range msg.Media {
		if err := a.sendMedia(ctx, bot, chatID, path); err != nil {
			a.log.Warn("Failed to send media", "chat_id", msg.ChatID, "path", path, "error", err)
		}
	}

	return nil
}

func (a *Adapter) sendMedia(ctx context.Context, bot *telego.Bot, chatID int64, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open media file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		_, err = bot.SendPhoto(ctx, tu.Photo(tu.ID(chatID), tu.File(file)))
	case ".ogg":
		_, err = bot.SendVoice(ctx, tu.Voice(tu.ID(chatID), tu.File(file)))
	case ".mp3", ".m4a", ".wav", ".flac":
		_, err = bot.SendAudio(ctx, tu.Audio(tu.ID(chatID), tu.File(file)))
	default:
		_, err = bot.SendDocument(ctx, tu.Document(tu.ID(chatID), tu.File(file)))
	}

	return err
}

func (a *Adapter) reply(ctx context.Context, bot *telego.Bot, chatID int64, text string) {
	if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil && ctx.Err() == nil {
		a.log.Error("Failed to send telegram reply", "chat_id", chatID, "error", err)
	}
}

// splitMessage breaks text into chunks within the platform limit,
// preferring paragraph boundaries, then sentence ends, then spaces.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for remaining != "" {
		if len(remaining) <= maxMessageLength {
			chunks = append(chunks, remaining)
			break
		}

		window := remaining[:maxMessageLength]

		splitAt := strings.LastIndex(window, "\n\n")
		if splitAt <= 0 {
			if idx := strings.LastIndex(window, ". "); idx > 0 {
				splitAt = idx + 1
			}
		}
		if splitAt <= 0 {
			splitAt = strings.LastIndex(window, " ")
		}
		if splitAt <= 0 {
			splitAt = maxMessageLength
			for splitAt > 0 && !utf8.RuneStart(remaining[splitAt]) {
				splitAt--
			}
		}

		chunks = append(chunks, strings.TrimRight(remaining[:splitAt], " \n"))
		remaining = strings.TrimLeft(remaining[splitAt:], " \n")
	}

	return chunks
}

func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}
