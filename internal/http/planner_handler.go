package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/surnin/schedule-planner/internal/application"
)

const maxImportSize = 10 << 20 // 10 MiB

type plannerService interface {
	Export(ctx context.Context) ([]byte, error)
	Import(ctx context.Context, data []byte) error
	Publish(ctx context.Context, renderer application.DocumentRenderer, notifier application.Notifier) (application.PublishResult, error)
	Authenticated() bool
	Unlocked() bool
}

type syncStatus interface {
	State() application.ConnectionState
	OnlineUsers() []string
}

// PlannerHandler serves status, export, import and publish.
type PlannerHandler struct {
	service   plannerService
	sync      syncStatus
	renderer  application.DocumentRenderer
	notifier  application.Notifier
	responder responder
	logger    *slog.Logger
}

func NewPlannerHandler(service plannerService, sync syncStatus, renderer application.DocumentRenderer, notifier application.Notifier, logger *slog.Logger) *PlannerHandler {
	base := defaultLogger(logger)
	return &PlannerHandler{
		service:   service,
		sync:      sync,
		renderer:  renderer,
		notifier:  notifier,
		responder: newResponder(base),
		logger:    base,
	}
}

func (h *PlannerHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "PlannerHandler", operation, attrs...)
}

type statusResponse struct {
	ConnectionState string   `json:"connection_state"`
	OnlineUsers     []string `json:"online_users"`
	Authenticated   bool     `json:"authenticated"`
	Unlocked        bool     `json:"unlocked"`
}

func (h *PlannerHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := statusResponse{
		ConnectionState: string(application.ConnectionDisconnected),
		OnlineUsers:     []string{},
		Authenticated:   h.service.Authenticated(),
		Unlocked:        h.service.Unlocked(),
	}
	if h.sync != nil {
		resp.ConnectionState = string(h.sync.State())
		if users := h.sync.OnlineUsers(); users != nil {
			resp.OnlineUsers = users
		}
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *PlannerHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	data, err := h.service.Export(r.Context())
	if err != nil {
		h.log(r.Context(), "Export").ErrorContext(r.Context(), "export failed",
			"error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="schedule-export.json"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log(r.Context(), "Export").ErrorContext(r.Context(), "write export failed", "error", err)
	}
}

func (h *PlannerHandler) Import(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize))
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	if err := h.service.Import(r.Context(), data); err != nil {
		h.log(r.Context(), "Import").ErrorContext(r.Context(), "import failed",
			"error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Import").InfoContext(r.Context(), "schedule imported")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

type publishResponse struct {
	DocumentSent bool   `json:"document_sent"`
	MessageSent  bool   `json:"message_sent"`
	Message      string `json:"message"`
}

func (h *PlannerHandler) Publish(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	result, err := h.service.Publish(r.Context(), h.renderer, h.notifier)
	if err != nil {
		h.log(r.Context(), "Publish").ErrorContext(r.Context(), "publish failed",
			"error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := publishResponse{
		DocumentSent: result.DocumentSent,
		MessageSent:  result.MessageSent,
	}
	switch {
	case result.DocumentSent:
		resp.Message = "Расписание опубликовано, документ отправлен в Telegram."
	case result.MessageSent:
		resp.Message = "Расписание опубликовано, отправлено текстовое уведомление."
	default:
		resp.Message = "Расписание опубликовано."
	}
	h.log(r.Context(), "Publish").InfoContext(r.Context(), "schedule published",
		"document_sent", result.DocumentSent, "message_sent", result.MessageSent)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}
