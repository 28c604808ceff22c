package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/linchiahui/aitrader/internal/config"
	"github.com/linchiahui/aitrader/internal/logger"
)

// Notifier pushes lifecycle and trade events to Telegram. All sends
// are fire and forget; a failed send is logged and dropped.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
	logger  *logger.Logger
}

func NewNotifier(cfg *config.Config, log *logger.Logger) *Notifier {
	if !cfg.Telegram.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		log.Error("failed to create telegram bot", "error", err)
		return &Notifier{enabled: false, logger: log}
	}

	log.Info("telegram bot connected", "username", bot.Self.UserName)

	return &Notifier{
		bot:     bot,
		chatID:  cfg.Telegram.ChatID,
		enabled: true,
		logger:  log,
	}
}

func (n *Notifier) NotifySignal(strategyID, signal, symbol string, price float64) {
	emoji := "🟢"
	if signal == "sell" {
		emoji = "🔴"
	}
	n.send(fmt.Sprintf("%s *%s* %s\nStrategy: %s\nPrice: %.2f", emoji, signal, symbol, strategyID, price))
}

func (n *Notifier) NotifyFill(strategyID, symbol, side string, lots int64, price float64) {
	n.send(fmt.Sprintf("✅ *Filled* %s %s\nStrategy: %s\nLots: %d\nPrice: %.2f", side, symbol, strategyID, lots, price))
}

func (n *Notifier) NotifyClose(strategyID, symbol, reason string, price, pnl float64) {
	emoji := "🔴"
	if pnl > 0 {
		emoji = "💰"
	}
	n.send(fmt.Sprintf("%s *Closed* %s\nStrategy: %s\nReason: %s\nPrice: %.2f\nP&L: %.0f", emoji, symbol, strategyID, reason, price, pnl))
}

func (n *Notifier) NotifyVerification(strategyID string, version, attempts int, passed bool, reason string) {
	if passed {
		n.send(fmt.Sprintf("🧪 *Verification passed* %s v%d\nAttempts: %d", strategyID, version, attempts))
		return
	}
	n.send(fmt.Sprintf("🧪 *Verification failed* %s v%d\nAttempts: %d\nReason: %s", strategyID, version, attempts, reason))
}

func (n *Notifier) NotifyError(context string, err error) {
	n.send(fmt.Sprintf("⚠️ *Error* [%s]\n%v", context, err))
}

func (n *Notifier) NotifyStatus(message string) {
	n.send(message)
}

func (n *Notifier) send(text string) {
	if !n.enabled {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error("send telegram message", "error", err)
	}
}
