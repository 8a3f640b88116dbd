// Package telegram is the messaging transport: it receives subscribe and
// cancel intents from chat interactions and delivers the engine's
// notifications.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"busalert/pkg/catalog"
	"busalert/pkg/geo"
	"busalert/pkg/geocode"
	"busalert/pkg/metrics"
	"busalert/pkg/render"
	"busalert/pkg/types"
	"busalert/pkg/watchlist"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	viewAlertsLabel   = "📋 View Alerts"
	sendLocationLabel = "📍 Send Location"
	genericErrorText  = "⚠️ Something went wrong. Please try again."
)

// ArrivalSource fetches a stop's live board for interactive requests.
type ArrivalSource interface {
	Arrivals(ctx context.Context, stopCode string) (types.ArrivalBoard, error)
}

// Completer is the optional conversational fallback for plain-text
// messages. A nil Completer disables it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// sender is the subset of the bot API the handlers use. *tgbotapi.BotAPI
// satisfies it; tests substitute a fake.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Config struct {
	NearbyRadiusMeters float64
	NearbyLimit        int
}

type Bot struct {
	api       sender
	botAPI    *tgbotapi.BotAPI
	cfg       Config
	catalog   *catalog.Catalog
	store     *watchlist.Store
	source    ArrivalSource
	resolver  geocode.Resolver
	completer Completer
	tracer    trace.Tracer
}

func New(token string, cfg Config, cat *catalog.Catalog, store *watchlist.Store, source ArrivalSource, resolver geocode.Resolver, completer Completer) (*Bot, error) {
	if cfg.NearbyRadiusMeters <= 0 {
		cfg.NearbyRadiusMeters = 1000
	}
	if cfg.NearbyLimit <= 0 {
		cfg.NearbyLimit = 8
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Telegram: %w", err)
	}

	return &Bot{
		api:       api,
		botAPI:    api,
		cfg:       cfg,
		catalog:   cat,
		store:     store,
		source:    source,
		resolver:  resolver,
		completer: completer,
		tracer:    otel.Tracer("telegram-bot"),
	}, nil
}

// Run consumes updates until the context is cancelled. Each update is
// handled in its own goroutine so a slow external call never stalls the
// update stream or the polling engine.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.botAPI.GetUpdatesChan(u)

	slog.Info("Telegram bot started", "username", b.botAPI.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.botAPI.StopReceivingUpdates()
			slog.Info("Telegram bot stopped")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

// Notify delivers an engine notification. Implements the engine's
// Notifier.
func (b *Bot) Notify(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	return b.send(ctx, msg)
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, span := b.tracer.Start(ctx, "telegram.handle_update")
	defer span.End()

	switch {
	case update.CallbackQuery != nil:
		span.SetAttributes(attribute.String("update_kind", "callback"))
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.Location != nil:
		span.SetAttributes(attribute.String("update_kind", "location"))
		loc := update.Message.Location
		b.sendNearbyStops(ctx, update.Message.Chat.ID, loc.Latitude, loc.Longitude, "🚏 Nearby Bus Stops:")
	case update.Message != nil:
		span.SetAttributes(attribute.String("update_kind", "message"))
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	switch {
	case text == "/start":
		b.sendWelcome(ctx, chatID)
	case text == viewAlertsLabel:
		b.sendAlertList(ctx, chatID, "📭 Below are your alerts:\n(press to cancel)")
	case strings.HasPrefix(text, "@"):
		b.handleTextSearch(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(text, "@")))
	case text != "" && !strings.HasPrefix(text, "/") && b.completer != nil:
		b.handleChatFallback(ctx, chatID, text)
	}
}

func (b *Bot) sendWelcome(ctx context.Context, chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Welcome! 🚏\nSend \"@your location\" or\nchoose an option below:")
	msg.ReplyMarkup = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(viewAlertsLabel),
			tgbotapi.NewKeyboardButtonLocation(sendLocationLabel),
		),
	)
	b.send(ctx, msg)
}

func (b *Bot) sendAlertList(ctx context.Context, chatID int64, title string) {
	subs := b.store.ListFor(chatID)
	if len(subs) == 0 {
		b.send(ctx, tgbotapi.NewMessage(chatID, "📭 You have no active bus alerts."))
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, sub := range subs {
		label := fmt.Sprintf("Bus %s @ %s (%s)", sub.ServiceNo, b.catalog.DisplayName(sub.StopCode), sub.StopCode)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "cancel_"+sub.StopCode+"_"+sub.ServiceNo),
		))
	}

	msg := tgbotapi.NewMessage(chatID, title)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(ctx, msg)
}

func (b *Bot) handleTextSearch(ctx context.Context, chatID int64, query string) {
	if query == "" {
		b.send(ctx, tgbotapi.NewMessage(chatID, `⚠️ Please type something after "@", e.g. "@ngee ann polytechnic"`))
		return
	}
	if b.resolver == nil {
		b.send(ctx, tgbotapi.NewMessage(chatID, genericErrorText))
		return
	}

	coord, found, err := b.resolver.Resolve(ctx, query)
	if err != nil {
		slog.Warn("Location search failed", "error", err)
		b.send(ctx, tgbotapi.NewMessage(chatID, "⚠️ Error searching location. Please try again."))
		return
	}
	if !found {
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("😕 No results found for *%s*", query))
		msg.ParseMode = tgbotapi.ModeMarkdown
		b.send(ctx, msg)
		return
	}

	title := fmt.Sprintf("🚏 Nearby Bus Stops From %q:", query)
	b.sendNearbyStops(ctx, chatID, coord.Latitude, coord.Longitude, title)
}

func (b *Bot) sendNearbyStops(ctx context.Context, chatID int64, lat, lng float64, title string) {
	nearby := geo.Nearby(b.catalog.All(), lat, lng, b.cfg.NearbyRadiusMeters, b.cfg.NearbyLimit)
	if len(nearby) == 0 {
		b.send(ctx, tgbotapi.NewMessage(chatID, "😕 No bus stops found within 1KM."))
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, item := range nearby {
		label := fmt.Sprintf("%s (%s)", item.Stop.Name, item.Stop.Code)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "stop_"+item.Stop.Code),
		))
	}

	msg := tgbotapi.NewMessage(chatID, title)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(ctx, msg)
}

func (b *Bot) handleChatFallback(ctx context.Context, chatID int64, text string) {
	reply, err := b.completer.Complete(ctx, text)
	if err != nil {
		slog.Warn("Chat completion failed", "error", err)
		b.send(ctx, tgbotapi.NewMessage(chatID, genericErrorText))
		return
	}
	b.send(ctx, tgbotapi.NewMessage(chatID, reply))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID
	action, stopCode, serviceNo := splitCallback(cb.Data)

	switch action {
	case "stop", "refresh":
		b.showArrivalBoard(ctx, chatID, messageID, stopCode)
	case "getalerts":
		b.showServicePicker(ctx, chatID, messageID, stopCode)
	case "alert":
		b.addAlert(ctx, chatID, messageID, stopCode, serviceNo)
	case "cancel":
		b.cancelAlert(ctx, chatID, messageID, stopCode, serviceNo)
	}

	b.request(ctx, tgbotapi.NewCallback(cb.ID, ""))
}

// splitCallback decodes "action_stopCode[_serviceNo]" callback payloads.
func splitCallback(data string) (action, stopCode, serviceNo string) {
	parts := strings.SplitN(data, "_", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return data, "", ""
	}
}

func (b *Bot) showArrivalBoard(ctx context.Context, chatID int64, messageID int, stopCode string) {
	board, err := b.source.Arrivals(ctx, stopCode)
	if err != nil {
		slog.Warn("Interactive arrival fetch failed", "stop_code", stopCode, "error", err)
		b.send(ctx, tgbotapi.NewMessage(chatID, genericErrorText))
		return
	}
	render.SortServices(board.Services)

	stopName := b.catalog.DisplayName(stopCode)

	b.request(ctx, tgbotapi.NewDeleteMessage(chatID, messageID))

	if len(board.Services) == 0 {
		b.send(ctx, tgbotapi.NewMessage(chatID, render.NoServices(stopName, stopCode)))
		return
	}

	msg := tgbotapi.NewMessage(chatID, render.Board(stopCode, stopName, board.Services, time.Now()))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = boardKeyboard(stopCode)
	b.send(ctx, msg)
}

func (b *Bot) showServicePicker(ctx context.Context, chatID int64, messageID int, stopCode string) {
	board, err := b.source.Arrivals(ctx, stopCode)
	if err != nil {
		slog.Warn("Service picker fetch failed", "stop_code", stopCode, "error", err)
		b.send(ctx, tgbotapi.NewMessage(chatID, genericErrorText))
		return
	}
	render.SortServices(board.Services)

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, svc := range board.Services {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔔 "+svc.ServiceNo, "alert_"+stopCode+"_"+svc.ServiceNo),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", "refresh_"+stopCode),
	))

	b.request(ctx, tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, tgbotapi.NewInlineKeyboardMarkup(rows...)))
}

func (b *Bot) addAlert(ctx context.Context, chatID int64, messageID int, stopCode, serviceNo string) {
	if serviceNo == "" {
		return
	}
	b.store.Add(chatID, stopCode, serviceNo)
	if metrics.SubscribesTotal != nil {
		metrics.SubscribesTotal.Add(ctx, 1)
	}

	msg := tgbotapi.NewMessage(chatID, render.AlertSet(serviceNo, b.catalog.DisplayName(stopCode), stopCode))
	msg.ParseMode = tgbotapi.ModeMarkdown
	b.send(ctx, msg)

	b.request(ctx, tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, boardKeyboard(stopCode)))
}

func (b *Bot) cancelAlert(ctx context.Context, chatID int64, messageID int, stopCode, serviceNo string) {
	b.store.Remove(chatID, stopCode, serviceNo)
	if metrics.CancelsTotal != nil {
		metrics.CancelsTotal.Add(ctx, 1)
	}

	b.request(ctx, tgbotapi.NewDeleteMessage(chatID, messageID))
	b.sendAlertList(ctx, chatID, "📭 Below are your alerts:\n(press to cancel)")
}

func boardKeyboard(stopCode string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔔 Get Notified When Arriving", "getalerts_"+stopCode),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", "refresh_"+stopCode),
		),
	)
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) error {
	_, err := b.api.Send(c)
	b.recordSend(ctx, err)
	if err != nil {
		slog.Error("Telegram send failed", "error", err)
	}
	return err
}

func (b *Bot) request(ctx context.Context, c tgbotapi.Chattable) {
	if _, err := b.api.Request(c); err != nil {
		slog.Debug("Telegram request failed", "error", err)
	}
}

func (b *Bot) recordSend(ctx context.Context, err error) {
	if metrics.TelegramSendsTotal == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.TelegramSendsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}
