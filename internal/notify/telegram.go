package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/niftyrun/internal/audit"
	"github.com/sawpanic/niftyrun/internal/domain"
	"github.com/sawpanic/niftyrun/internal/stream"
)

const (
	// DefaultBaseURL is the Telegram Bot API root
	DefaultBaseURL = "https://api.telegram.org"

	// ConsumerGroup is the bus group the notifier subscribes under
	ConsumerGroup = "telegram"
)

// Config configures the Telegram notifier
type Config struct {
	Enabled  bool          `yaml:"enabled"`
	BotToken string        `yaml:"bot_token"`
	ChatID   string        `yaml:"chat_id"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Validate checks the token and chat id of an enabled notifier
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BotToken == "" {
		return errors.New("telegram bot token is required")
	}
	if c.ChatID == "" {
		return errors.New("telegram chat id is required")
	}
	parts := strings.Split(c.BotToken, ":")
	if len(parts) != 2 || len(parts[0]) < 8 {
		return errors.New("invalid telegram bot token format")
	}
	return nil
}

// RenderEntryDecision formats the entry alert for a decision
func RenderEntryDecision(idx string, strike, lots int, price, sl float64, conf int, broker string) string {
	return fmt.Sprintf("*%s* BUY %d x%d @ %.1f | SL %.1f | Conf %d%% | Broker: %s",
		idx, strike, lots, price, sl, conf, broker)
}

// Render formats td with RenderEntryDecision
func Render(td *domain.TradeDecision) string {
	return RenderEntryDecision(td.Index, td.Strike, td.Lots, td.Entry, td.StopLoss, td.ConfidencePct, td.Broker)
}

type sendMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// TelegramNotifier posts decision alerts to a Telegram chat
type TelegramNotifier struct {
	client *resty.Client
	chatID string
}

// NewTelegramNotifier creates a notifier for cfg
func NewTelegramNotifier(cfg Config) *TelegramNotifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/bot" + cfg.BotToken).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &TelegramNotifier{client: client, chatID: cfg.ChatID}
}

// Send posts text as a Markdown message
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	var out apiResponse
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(sendMessage{
			ChatID:                n.chatID,
			Text:                  text,
			ParseMode:             "Markdown",
			DisableWebPagePreview: true,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if !out.OK {
		desc := out.Description
		if desc == "" {
			desc = resp.Status()
		}
		return fmt.Errorf("telegram API error %d: %s", resp.StatusCode(), desc)
	}
	log.Debug().Str("chat_id", n.chatID).Msg("telegram alert sent")
	return nil
}

// Notify renders and sends the entry alert for td
func (n *TelegramNotifier) Notify(ctx context.Context, td *domain.TradeDecision) error {
	return n.Send(ctx, Render(td))
}

// Subscribe attaches the notifier to the decisions topic of bus
func (n *TelegramNotifier) Subscribe(bus stream.Bus) error {
	return bus.Subscribe(stream.TopicDecisions, ConsumerGroup, func(ctx context.Context, msg *stream.Message) error {
		env, err := stream.Decode(msg.Payload)
		if err != nil {
			return err
		}
		if env.Kind != audit.KindTradeDecision {
			return nil
		}
		var td domain.TradeDecision
		if err := env.Into(&td); err != nil {
			return err
		}
		return n.Notify(ctx, &td)
	})
}
