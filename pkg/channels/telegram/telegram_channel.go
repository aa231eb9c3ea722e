package telegram

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"deskpilot/pkg/api"
	"deskpilot/pkg/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	pollTimeoutSec = 60
	retryDelay     = 3 * time.Second
)

// TelegramChannel is the production implementation of gateway.Channel for
// the Telegram platform. Each chat is one conversation.
type TelegramChannel struct {
	bot          *tgbotapi.BotAPI   // Underlying Telegram SDK client
	messageLimit int                // Maximum character count per single message bubble
	logger       *zap.Logger
	stopCtx      context.Context    // Context used to forcibly abort the long-polling HTTP request
	stopCancel   context.CancelFunc // Function to trigger the abort
	done         chan struct{}      // Closed when the update loop exits
}

func NewTelegramChannel(cfg config.TelegramConfig, logger *zap.Logger) (*TelegramChannel, error) {
	ctx, cancel := context.WithCancel(context.Background())

	// A dedicated HTTP client whose dials are tied to stopCtx, so Stop
	// aborts a pending long poll instead of leaving it to collide with the
	// next bot instance (409 Conflict).
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	botHTTPClient := &http.Client{
		Timeout: (pollTimeoutSec + 10) * time.Second,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				conn, err := dialer.DialContext(dialCtx, network, addr)
				if err != nil {
					return nil, err
				}
				// Closing the connection on stop aborts requests in flight.
				context.AfterFunc(ctx, func() { _ = conn.Close() })
				return conn, nil
			},
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, botHTTPClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger = logger.Named("telegram")
	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	limit := cfg.MessageLimit
	if limit <= 0 {
		limit = 4000
	}
	return &TelegramChannel{
		bot:          bot,
		messageLimit: limit,
		logger:       logger,
		stopCtx:      ctx,
		stopCancel:   cancel,
		done:         make(chan struct{}),
	}, nil
}

// ID returns the unique platform identifier "telegram".
func (t *TelegramChannel) ID() string {
	return "telegram"
}

// Start initiates the long-polling update loop in a background goroutine.
func (t *TelegramChannel) Start(ctx api.ChannelContext) error {
	go t.poll(ctx)
	return nil
}

func (t *TelegramChannel) poll(ctx api.ChannelContext) {
	defer close(t.done)
	offset := 0

	for {
		select {
		case <-t.stopCtx.Done():
			return // Gracefully exit on shutdown
		default:
		}

		// GetUpdates instead of GetUpdatesChan keeps the offset under our control.
		reqConfig := tgbotapi.NewUpdate(offset)
		reqConfig.Timeout = pollTimeoutSec
		updates, err := t.bot.GetUpdates(reqConfig)
		if err != nil {
			if t.stopCtx.Err() != nil {
				return // Ignore error if we are shutting down
			}
			t.logger.Debug("Failed to get telegram updates", zap.Error(err))
			select {
			case <-t.stopCtx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID < offset {
				continue
			}
			offset = update.UpdateID + 1

			if msg := toUnified(update); msg != nil {
				ctx.OnMessage(t.ID(), msg)
			}
		}
	}
}

// toUnified maps an update onto a UnifiedMessage; it returns nil for
// updates that carry no instruction.
func toUnified(update tgbotapi.Update) *api.UnifiedMessage {
	m := update.Message
	if m == nil || m.Chat == nil {
		return nil
	}
	content := m.Text
	if content == "" {
		content = m.Caption
	}
	if content == "" {
		return nil
	}

	session := api.SessionContext{
		ChannelID: "telegram",
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
	}
	if m.From != nil {
		session.UserID = strconv.FormatInt(m.From.ID, 10)
		session.Username = m.From.UserName
	}
	return &api.UnifiedMessage{Session: session, Content: content}
}

// SendSignal implements the gateway.SignalingChannel interface. Telegram
// shows a typing indicator for the thinking signal; others are ignored.
func (t *TelegramChannel) SendSignal(session api.SessionContext, signal string) error {
	if signal != api.SignalThinking {
		return nil
	}
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}
	// Request, not Send: the result is a bool, not a Message.
	_, err = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (t *TelegramChannel) Stop() error {
	t.stopCancel() // Cancel our custom long-polling loop immediately

	if httpClient, ok := t.bot.Client.(*http.Client); ok && httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
	}

	select {
	case <-t.done:
	case <-time.After(5 * time.Second):
		t.logger.Warn("Update loop did not exit in time")
	}
	return nil
}

func (t *TelegramChannel) Send(session api.SessionContext, message string) error {
	// Telegram Chat ID must be int64
	chatID, err := strconv.ParseInt(session.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id for telegram: %s", session.ChatID)
	}

	for i, chunk := range splitMessage(message, t.messageLimit) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send chunk %d failed: %w", i, err)
		}
	}
	return nil
}

// splitMessage cuts message into pieces of at most limit runes.
func splitMessage(message string, limit int) []string {
	runes := []rune(message)
	if len(runes) <= limit {
		return []string{message}
	}
	chunks := make([]string, 0, len(runes)/limit+1)
	for i := 0; i < len(runes); i += limit {
		end := min(i+limit, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

var _ api.SignalingChannel = (*TelegramChannel)(nil)
