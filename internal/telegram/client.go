package telegram

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"golang.org/x/time/rate"

	"talkops/internal/logger"
)

// MaxMessageLen is Telegram's hard limit for one text message.
const MaxMessageLen = 4096

var retryAfterRe = regexp.MustCompile(`retry after (\d+)`)

// Client wraps the bot API with a global send rate limit and retry-after
// handling.
type Client struct {
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
	logger  logger.Logger
}

func NewClient(token string, log logger.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Client{
		bot: bot,
		// Telegram allows ~30 messages per second bot-wide
		limiter: rate.NewLimiter(rate.Every(time.Second/30), 5),
		logger:  log,
	}, nil
}

func (c *Client) Self() tgbotapi.User {
	return c.bot.Self
}

func (c *Client) GetUpdatesChan(timeout int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	return c.bot.GetUpdatesChan(u)
}

func (c *Client) Send(ctx context.Context, msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, err
	}
	return c.bot.Send(msg)
}

// SendWithRetry sends a message, waiting out Telegram's retry-after responses
// up to maxRetries times. Other errors return immediately.
func (c *Client) SendWithRetry(ctx context.Context, msg tgbotapi.Chattable, maxRetries int) (tgbotapi.Message, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		sent, err := c.Send(ctx, msg)
		if err == nil {
			return sent, nil
		}
		lastErr = err

		if !strings.Contains(err.Error(), "Too Many Requests: retry after") || attempt >= maxRetries {
			return tgbotapi.Message{}, lastErr
		}

		waitTime := time.Duration(extractRetryAfter(err.Error())+2) * time.Second
		c.logger.WithFields(logger.Fields{
			"wait_time": waitTime.String(),
			"attempt":   attempt + 1,
		}).Warn("Rate limit hit, waiting before retry")

		select {
		case <-ctx.Done():
			return tgbotapi.Message{}, ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// SendText delivers text to a chat, splitting it into message-sized chunks.
// A failed chunk is logged and skipped, the remaining chunks are still sent.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, replyTo int) {
	for i, part := range SplitText(text, MaxMessageLen) {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 && replyTo != 0 {
			msg.ReplyParameters.MessageID = replyTo
		}
		if _, err := c.SendWithRetry(ctx, msg, 2); err != nil {
			c.logger.WithError(err).WithField("chat_id", chatID).Error("Failed to send message part")
		}
	}
}

func (c *Client) SendTyping(ctx context.Context, chatID int64) {
	if err := c.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := c.bot.Request(tgbotapi.NewChatAction(chatID, "typing")); err != nil {
		c.logger.WithError(err).Debug("Failed to send typing action")
	}
}

func (c *Client) AnswerCallback(callbackID string) {
	if _, err := c.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		c.logger.WithError(err).Error("Failed to answer callback query")
	}
}

// SplitText splits text into chunks of at most limit bytes, preferring
// newline boundaries and never cutting a rune in half.
func SplitText(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var parts []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		parts = append(parts, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func extractRetryAfter(errMsg string) int {
	matches := retryAfterRe.FindStringSubmatch(errMsg)
	if len(matches) > 1 {
		retryAfter, _ := strconv.Atoi(matches[1])
		return retryAfter
	}
	return 0
}
