package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/Freeeeeet/conference_booking/internal/model"
	"github.com/Freeeeeet/conference_booking/internal/service"
)

const helpText = "📚 Справка по командам:\n\n" +
	"/conferences [название] - Найти конференции\n" +
	"/suggest <user_id> - Подборка по интересам\n" +
	"/book <user_id> <конференция> - Записаться\n" +
	"/status <id> - Статус бронирования\n" +
	"/confirm <id> - Подтвердить место из листа ожидания\n" +
	"/cancel <id> - Отменить бронирование\n" +
	"/help - Показать эту справку"

// Command is a parsed bot command: "/book alice GopherCon EU" gives
// Name "book" and Args ["alice", "GopherCon", "EU"].
type Command struct {
	Name string
	Args []string
}

// ParseCommand разбирает текст сообщения. Суффикс @botname отбрасывается.
func ParseCommand(text string) (Command, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return Command{}, false
	}
	return Command{Name: strings.ToLower(name), Args: fields[1:]}, true
}

// rest joins the arguments from i on, so conference names may contain spaces.
func (c Command) rest(i int) string {
	if len(c.Args) <= i {
		return ""
	}
	return strings.Join(c.Args[i:], " ")
}

// Reply выполняет команду и возвращает текст ответа
func (h *Handlers) Reply(ctx context.Context, cmd Command) string {
	switch cmd.Name {
	case "start", "help":
		return helpText
	case "book":
		return h.replyBook(ctx, cmd)
	case "status":
		return h.replyStatus(ctx, cmd)
	case "confirm":
		return h.replyConfirm(ctx, cmd)
	case "cancel":
		return h.replyCancel(ctx, cmd)
	case "conferences":
		return h.replyConferences(ctx, cmd)
	case "suggest":
		return h.replySuggest(ctx, cmd)
	}
	return "❓ Неизвестная команда.\n\n" + helpText
}

func (h *Handlers) replyBook(ctx context.Context, cmd Command) string {
	if len(cmd.Args) < 2 {
		return "Использование: /book <user_id> <конференция>"
	}
	userID, conference := cmd.Args[0], cmd.rest(1)

	var res *service.BookingResult
	err := service.RetryOnConflict(ctx, func(ctx context.Context) error {
		var err error
		res, err = h.allocator.RequestBooking(ctx, userID, conference)
		return err
	})
	if err != nil {
		h.logError("book", err)
		return errorText(err)
	}

	if res.Status == model.BookingStatusWaitlisted {
		return fmt.Sprintf(
			"⏳ Мест нет, вы добавлены в лист ожидания.\n\n"+
				"🆔 Бронирование: %s\n\n"+
				"Когда место освободится, подтвердите его командой /confirm %s",
			res.BookingID, res.BookingID,
		)
	}
	return fmt.Sprintf("✅ Вы записаны на %s!\n\n🆔 Бронирование: %s", conference, res.BookingID)
}

func (h *Handlers) replyStatus(ctx context.Context, cmd Command) string {
	if len(cmd.Args) != 1 {
		return "Использование: /status <id>"
	}

	view, err := h.allocator.GetStatus(ctx, model.BookingID(cmd.Args[0]))
	if err != nil {
		h.logError("status", err)
		return errorText(err)
	}

	display := GetBookingStatusDisplay(view.Status)
	text := fmt.Sprintf(
		"%s Бронирование %s\n\n"+
			"🎤 Конференция: %s\n"+
			"👤 Пользователь: %s\n"+
			"📊 Статус: %s",
		display.Emoji, view.BookingID, view.ConferenceName, view.UserID, display.Text,
	)
	switch deadline := view.ConfirmDeadline(); {
	case deadline == "":
	case view.Expired:
		text += "\n⌛️ Время на подтверждение истекло"
	default:
		text += "\n⏰ Подтвердить до: " + deadline
	}
	return text
}

func (h *Handlers) replyConfirm(ctx context.Context, cmd Command) string {
	if len(cmd.Args) != 1 {
		return "Использование: /confirm <id>"
	}
	id := model.BookingID(cmd.Args[0])

	err := service.RetryOnConflict(ctx, func(ctx context.Context) error {
		return h.allocator.SelfConfirm(ctx, id)
	})
	if err != nil {
		h.logError("confirm", err)
		return errorText(err)
	}
	return fmt.Sprintf("✅ Бронирование %s подтверждено!", id)
}

func (h *Handlers) replyCancel(ctx context.Context, cmd Command) string {
	if len(cmd.Args) != 1 {
		return "Использование: /cancel <id>"
	}
	id := model.BookingID(cmd.Args[0])

	err := service.RetryOnConflict(ctx, func(ctx context.Context) error {
		return h.allocator.CancelBooking(ctx, id)
	})
	if err != nil {
		h.logError("cancel", err)
		return errorText(err)
	}
	return fmt.Sprintf("✅ Бронирование %s отменено.", id)
}

func (h *Handlers) replyConferences(ctx context.Context, cmd Command) string {
	confs, err := h.catalog.SearchConferences(ctx, service.SearchQuery{Name: cmd.rest(0)})
	if err != nil {
		h.logError("conferences", err)
		return errorText(err)
	}
	return FormatConferenceList("📚 Конференции:", confs)
}

func (h *Handlers) replySuggest(ctx context.Context, cmd Command) string {
	if len(cmd.Args) != 1 {
		return "Использование: /suggest <user_id>"
	}

	confs, err := h.catalog.SuggestConferences(ctx, cmd.Args[0])
	if err != nil {
		h.logError("suggest", err)
		return errorText(err)
	}
	return FormatConferenceList("✨ Вам может быть интересно:", confs)
}

func (h *Handlers) logError(command string, err error) {
	h.logger.Warn("Bot command failed", zap.String("command", command), zap.Error(err))
}

// HandleCommand обрабатывает все команды бота
func (h *Handlers) HandleCommand(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	cmd, ok := ParseCommand(update.Message.Text)
	if !ok {
		h.sendMessage(ctx, b, update.Message.Chat.ID, "Используйте /help для просмотра доступных команд.")
		return
	}

	h.logger.Debug("Bot command",
		zap.String("command", cmd.Name),
		zap.Int64("chat_id", update.Message.Chat.ID),
	)
	h.sendMessage(ctx, b, update.Message.Chat.ID, h.Reply(ctx, cmd))
}
