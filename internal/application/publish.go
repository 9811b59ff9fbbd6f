package application

import (
	"context"
	"fmt"
)

// DocumentRenderer produces the shareable document (typically a PDF) sent to
// the external notification sink. Rendering lives outside the core; a nil
// renderer simply skips the document and falls back to text.
type DocumentRenderer interface {
	RenderSchedule(ctx context.Context, snapshot Snapshot, view ViewState) ([]byte, error)
}

// Notifier is the external notification sink boundary. Both operations are
// fire-and-forget: they report success as a bare boolean and must never
// abort the publish flow.
type Notifier interface {
	SendDocument(ctx context.Context, cfg TelegramConfig, filename string, document []byte, caption string) bool
	SendMessage(ctx context.Context, cfg TelegramConfig, text string) bool
}

// PublishResult reports how far the publish flow got; partial delivery is a
// normal outcome, not an error.
type PublishResult struct {
	DocumentSent bool
	MessageSent  bool
}

// Publish pushes the current schedule and tags to peers, raises a push
// notification, and notifies the external sink when it is configured: first
// with a rendered document, degrading to a plain text message when the
// document cannot be produced or delivered.
func (s *PlannerService) Publish(ctx context.Context, renderer DocumentRenderer, notifier Notifier) (PublishResult, error) {
	s.mu.Lock()
	if err := s.requireUnlockedLocked(); err != nil {
		s.mu.Unlock()
		return PublishResult{}, err
	}
	s.publishScheduleLocked(ctx)
	s.publishCellTagsLocked(ctx)
	if s.publisher != nil {
		s.publisher.SendPushNotification(ctx, "Расписание обновлено!", "Изменения в графике работы опубликованы.")
	}
	telegramCfg := s.settings.Telegram
	snapshot := Snapshot{
		Settings: s.settings.Clone(),
		Schedule: s.schedule.Clone(),
		CellTags: s.cellTags.Clone(),
	}
	view := s.view
	now := s.now()
	s.mu.Unlock()

	logger := s.loggerWith(ctx, "Publish")

	result := PublishResult{}
	if !telegramCfg.Enabled || notifier == nil {
		return result, nil
	}

	if renderer != nil {
		document, err := renderer.RenderSchedule(ctx, snapshot, view)
		if err != nil {
			logger.WarnContext(ctx, "document rendering failed, falling back to text", "error", err)
		} else {
			filename := fmt.Sprintf("schedule-%s.pdf", now.Format("2006-01-02"))
			caption := fmt.Sprintf("Расписание смен\nДата: %s\nВремя: %s",
				now.Format("02.01.2006"), now.Format("15:04"))
			result.DocumentSent = notifier.SendDocument(ctx, telegramCfg, filename, document, caption)
		}
	}

	if !result.DocumentSent {
		fallback := fmt.Sprintf("Обновление расписания\n\nИзменения в графике работы опубликованы.\n%s в %s",
			now.Format("02.01.2006"), now.Format("15:04"))
		result.MessageSent = notifier.SendMessage(ctx, telegramCfg, fallback)
		if !result.MessageSent {
			logger.WarnContext(ctx, "external notification failed entirely")
		}
	}

	return result, nil
}
