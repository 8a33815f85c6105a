package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"go.uber.org/zap"

	"github.com/Freeeeeet/conference_booking/internal/model"
)

// BookingStatusDisplay содержит emoji и текст для отображения статуса
type BookingStatusDisplay struct {
	Emoji string
	Text  string
}

// GetBookingStatusDisplay возвращает emoji и текст для статуса бронирования
func GetBookingStatusDisplay(status model.BookingStatus) BookingStatusDisplay {
	displays := map[model.BookingStatus]BookingStatusDisplay{
		model.BookingStatusConfirmed:  {"✅", "Подтверждена"},
		model.BookingStatusWaitlisted: {"⏳", "В листе ожидания"},
		model.BookingStatusCanceled:   {"❌", "Отменена"},
	}

	if display, ok := displays[status]; ok {
		return display
	}

	return BookingStatusDisplay{"❓", "Неизвестно"}
}

// FormatConference форматирует конференцию для списка
func FormatConference(c *model.Conference) string {
	topics := "нет"
	if len(c.Topics) > 0 {
		topics = strings.Join(c.Topics, ", ")
	}
	return fmt.Sprintf(
		"🎤 %s\n"+
			"📍 %s\n"+
			"🏷 %s\n"+
			"🕘 %s - %s\n"+
			"🪑 Свободно мест: %d из %d",
		c.Name,
		c.Location,
		topics,
		model.FormatTimestamp(c.StartTime),
		model.FormatTimestamp(c.EndTime),
		c.RemainingSlots,
		c.TotalSlots,
	)
}

// FormatConferenceList форматирует список конференций
func FormatConferenceList(title string, confs []*model.Conference) string {
	if len(confs) == 0 {
		return "📭 Конференции не найдены."
	}
	parts := make([]string, 0, len(confs)+1)
	parts = append(parts, title)
	for _, c := range confs {
		parts = append(parts, FormatConference(c))
	}
	return strings.Join(parts, "\n\n")
}

// errorText переводит ошибку сервиса в сообщение для пользователя
func errorText(err error) string {
	switch {
	case errors.Is(err, model.ErrDuplicateBooking):
		if id, ok := model.ExistingBookingID(err); ok {
			return fmt.Sprintf("⚠️ Вы уже записаны на эту конференцию.\n\n🆔 Бронирование: %s", id)
		}
		return "⚠️ Вы уже записаны на эту конференцию."
	case errors.Is(err, model.ErrOverlapConflict):
		return "⚠️ У вас уже есть бронирование, которое пересекается по времени."
	case errors.Is(err, model.ErrConfirmationWindowExpired):
		return "⌛️ Время на подтверждение истекло."
	case errors.Is(err, model.ErrNoCapacity):
		return "🪑 Свободных мест пока нет. Вы остаётесь в листе ожидания."
	case errors.Is(err, model.ErrCannotConfirm):
		return "❌ Подтвердить бронирование нельзя."
	case errors.Is(err, model.ErrNotFound):
		return "🔍 Не найдено. Проверьте пользователя, конференцию или номер бронирования."
	case errors.Is(err, model.ErrInvalidInput):
		return "❌ Неверные параметры: " + err.Error()
	case errors.Is(err, model.ErrStorageConflict):
		return "⏳ Сервис перегружен. Попробуйте ещё раз."
	}
	return "❌ Произошла ошибка. Попробуйте позже."
}

// sendMessage отправляет сообщение и логирует если не удалось
func (h *Handlers) sendMessage(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		h.logger.Error("Failed to send message",
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
	}
}
