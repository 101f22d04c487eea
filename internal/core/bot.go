package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"

	"talkops/internal/chat"
	"talkops/internal/config"
	"talkops/internal/database"
	"talkops/internal/logger"
	"talkops/internal/service"
	"talkops/internal/telegram"
	"talkops/internal/thread"
)

const (
	callbackConfirmPrefix = "confirm:"
	callbackCancelPrefix  = "cancel:"
)

// Bot routes Telegram updates into the orchestrator and delivers answers
// back.
type Bot struct {
	tg            *telegram.Client
	cfg           *config.Config
	orchestrator  *chat.Orchestrator
	confirmations *chat.Confirmations
	store         *thread.Store
	db            database.Database
	localizer     *service.Localizer
	logger        logger.Logger
}

func NewBot(
	tg *telegram.Client,
	cfg *config.Config,
	orchestrator *chat.Orchestrator,
	confirmations *chat.Confirmations,
	store *thread.Store,
	db database.Database,
	localizer *service.Localizer,
	log logger.Logger,
) *Bot {
	return &Bot{
		tg:            tg,
		cfg:           cfg,
		orchestrator:  orchestrator,
		confirmations: confirmations,
		store:         store,
		db:            db,
		localizer:     localizer,
		logger:        log,
	}
}

func (b *Bot) Start(ctx context.Context) error {
	updates := b.tg.GetUpdatesChan(60)
	b.logger.WithField("username", b.tg.Self().UserName).Info("Bot started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

// handleCallback resolves confirm/cancel actions by correlation id.
func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	b.tg.AnswerCallback(query.ID)
	if query.Message == nil {
		return
	}
	chatID := query.Message.Chat.ID

	var id string
	var approved bool
	switch {
	case strings.HasPrefix(query.Data, callbackConfirmPrefix):
		id = strings.TrimPrefix(query.Data, callbackConfirmPrefix)
		approved = true
	case strings.HasPrefix(query.Data, callbackCancelPrefix):
		id = strings.TrimPrefix(query.Data, callbackCancelPrefix)
	default:
		return
	}

	if !b.confirmations.Resolve(id, approved) {
		b.tg.SendText(ctx, chatID, b.localizer.Localize("confirmation_expired", nil), 0)
		return
	}

	key := "confirmation_cancelled"
	if approved {
		key = "confirmation_accepted"
	}
	b.tg.SendText(ctx, chatID, b.localizer.Localize(key, nil), query.Message.MessageID)
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if msg.Text == "" && msg.Caption != "" {
		// media messages carry their text in the caption
		msg.Text = msg.Caption
	}
	if msg.Text == "" {
		return
	}

	b.rememberUser(msg.From)

	if !b.cfg.Telegram().IsAllowed(msg.From.ID, msg.Chat.ID) {
		b.logger.WithFields(logger.Fields{
			"user_id":  msg.From.ID,
			"username": msg.From.UserName,
			"chat_id":  msg.Chat.ID,
		}).Warn("Unauthorized access attempt")
		b.tg.SendText(ctx, msg.Chat.ID, b.localizer.Localize("not_whitelisted", nil), msg.MessageID)
		return
	}

	chatCfg := b.resolveChatConfig(msg.Chat.ID)

	if msg.IsCommand() {
		b.handleCommand(ctx, chatCfg, msg)
		return
	}

	text := msg.Text
	state := b.store.GetOrCreate(chatCfg.ID)

	if btn := matchButton(chatCfg, text); btn != nil {
		if btn.AwaitText {
			state.SetActiveButton(btn)
			b.tg.SendText(ctx, chatCfg.ID, b.localizer.Localize("awaiting_text", nil), msg.MessageID)
			return
		}
		text = btn.Prompt
	} else if active := state.ActiveButton(); active != nil {
		text = active.Prompt + "\n\n" + text
		state.SetActiveButton(nil)
	}

	b.tg.SendTyping(ctx, chatCfg.ID)

	turn := chat.Turn{
		ChatID:   chatCfg.ID,
		Text:     text,
		Name:     displayName(msg.From),
		At:       msg.Time(),
		Notifier: &telegramNotifier{tg: b.tg, localizer: b.localizer},
	}
	b.orchestrator.Process(ctx, chatCfg, turn, func(answer string) {
		b.tg.SendText(ctx, chatCfg.ID, answer, msg.MessageID)
	})
}

func (b *Bot) handleCommand(ctx context.Context, chatCfg *config.ChatConfig, msg *tgbotapi.Message) {
	b.logger.WithFields(logger.Fields{
		"command": msg.Command(),
		"user_id": msg.From.ID,
		"chat_id": msg.Chat.ID,
	}).Info("Handling command")

	switch msg.Command() {
	case "start":
		greeting := tgbotapi.NewMessage(chatCfg.ID, b.localizer.Localize("start_greeting", nil))
		if keyboard := buttonKeyboard(chatCfg); keyboard != nil {
			greeting.ReplyMarkup = keyboard
		}
		if _, err := b.tg.SendWithRetry(ctx, greeting, 2); err != nil {
			b.logger.WithError(err).Error("Failed to send greeting")
		}
	case "forget":
		b.store.Forget(chatCfg.ID)
		b.tg.SendText(ctx, chatCfg.ID, b.localizer.Localize("history_forgotten", nil), msg.MessageID)
	case "recent":
		turns, err := b.db.RecentTurns(chatCfg.ID, 5)
		if err != nil {
			b.logger.WithError(err).Error("Failed to load recent turns")
			b.tg.SendText(ctx, chatCfg.ID, b.localizer.Localize("error", nil), msg.MessageID)
			return
		}
		b.tg.SendText(ctx, chatCfg.ID, formatTurns(turns, b.localizer), msg.MessageID)
	}
}

// formatTurns renders archived turns for the /recent command, oldest first.
func formatTurns(turns []database.Turn, localizer *service.Localizer) string {
	if len(turns) == 0 {
		return localizer.Localize("no_recent_turns", nil)
	}
	var sb strings.Builder
	for _, turn := range turns {
		sb.WriteString(fmt.Sprintf("[%s] %s\n%s\n\n",
			turn.CreatedAt.Format("2006-01-02 15:04"), turn.Question, turn.Answer))
	}
	return strings.TrimSpace(sb.String())
}

func (b *Bot) rememberUser(from *tgbotapi.User) {
	user := database.User{
		ID:        from.ID,
		FirstName: from.FirstName,
		Username:  from.UserName,
	}
	stored, err := b.db.GetUser(from.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			if err := b.db.SaveUser(user); err != nil {
				b.logger.WithError(err).Error("Failed to save new user")
			}
		} else {
			b.logger.WithError(err).Error("Failed to get user")
		}
		return
	}
	if !user.Equal(*stored) {
		if err := b.db.SaveUser(user); err != nil {
			b.logger.WithError(err).Error("Failed to update user")
		}
	}
}

// resolveChatConfig is called per message so that a hot-reloaded config takes
// effect immediately.
func (b *Bot) resolveChatConfig(chatID int64) *config.ChatConfig {
	if chatCfg, ok := b.cfg.ChatByID(chatID); ok {
		return chatCfg
	}
	return &config.ChatConfig{ID: chatID}
}

func matchButton(chatCfg *config.ChatConfig, text string) *config.ButtonConfig {
	for i := range chatCfg.Buttons {
		if chatCfg.Buttons[i].Label == text {
			return &chatCfg.Buttons[i]
		}
	}
	return nil
}

func buttonKeyboard(chatCfg *config.ChatConfig) *tgbotapi.ReplyKeyboardMarkup {
	if len(chatCfg.Buttons) == 0 {
		return nil
	}
	var rows [][]tgbotapi.KeyboardButton
	for _, btn := range chatCfg.Buttons {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btn.Label)))
	}
	keyboard := tgbotapi.NewReplyKeyboard(rows...)
	keyboard.ResizeKeyboard = true
	return &keyboard
}

func displayName(from *tgbotapi.User) string {
	if from.UserName != "" {
		return from.UserName
	}
	return from.FirstName
}

// telegramNotifier surfaces intermediate turn output through Telegram.
type telegramNotifier struct {
	tg        *telegram.Client
	localizer *service.Localizer
}

func (n *telegramNotifier) Notify(ctx context.Context, chatID int64, text string) {
	n.tg.SendText(ctx, chatID, text, 0)
}

func (n *telegramNotifier) AskConfirmation(ctx context.Context, chatID int64, id, prompt string) error {
	msg := tgbotapi.NewMessage(chatID, prompt)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(n.localizer.Localize("confirm_yes", nil), callbackConfirmPrefix+id),
			tgbotapi.NewInlineKeyboardButtonData(n.localizer.Localize("confirm_no", nil), callbackCancelPrefix+id),
		),
	)
	_, err := n.tg.SendWithRetry(ctx, msg, 2)
	return err
}
