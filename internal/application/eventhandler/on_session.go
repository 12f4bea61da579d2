package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gametime-hub/gametime-tracker/internal/domain/shared"
	"github.com/gametime-hub/gametime-tracker/internal/metrics"
	"github.com/gametime-hub/gametime-tracker/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// SESSION LIFECYCLE NOTIFICATIONS
// Posts session start and end summaries to the community's log channel.
// Delivery is best effort: a failed send is logged and dropped, never
// retried against already-committed playtime.
// ═══════════════════════════════════════════════════════════════════════════

// SessionNotificationConfig contains configuration for session handlers.
type SessionNotificationConfig struct {
	// AnnounceStarts controls whether session starts are posted. End
	// summaries are always posted.
	AnnounceStarts bool

	// SendTimeout bounds each delivery attempt.
	SendTimeout time.Duration
}

// DefaultSessionNotificationConfig returns sensible defaults.
func DefaultSessionNotificationConfig() SessionNotificationConfig {
	return SessionNotificationConfig{
		AnnounceStarts: true,
		SendTimeout:    10 * time.Second,
	}
}

// OnSessionHandler posts session lifecycle summaries.
type OnSessionHandler struct {
	notifier Notifier
	logger   *slog.Logger
	config   SessionNotificationConfig
}

// NewOnSessionHandler creates a new OnSessionHandler.
func NewOnSessionHandler(notifier Notifier, logger *slog.Logger, config SessionNotificationConfig) *OnSessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultSessionNotificationConfig().SendTimeout
	}
	return &OnSessionHandler{
		notifier: notifier,
		logger:   logger.With("handler", "on_session"),
		config:   config,
	}
}

// HandleStarted processes a SessionStartedEvent. Implements shared.EventHandler.
func (h *OnSessionHandler) HandleStarted(event shared.Event) error {
	ev, ok := event.(shared.SessionStartedEvent)
	if !ok {
		h.logger.Warn("received non-SessionStartedEvent", "event_type", event.EventType())
		return nil
	}

	if !h.config.AnnounceStarts {
		return nil
	}

	msg := fmt.Sprintf("▶️ **%s** started playing **%s**", ev.DisplayName, ev.Game)
	return h.send(ev.CommunityID, msg)
}

// HandleEnded processes a SessionEndedEvent. Implements shared.EventHandler.
func (h *OnSessionHandler) HandleEnded(event shared.Event) error {
	ev, ok := event.(shared.SessionEndedEvent)
	if !ok {
		h.logger.Warn("received non-SessionEndedEvent", "event_type", event.EventType())
		return nil
	}

	duration := timeutil.FormatDuration(ev.DurationSeconds)

	// A voice leave reads as "played in voice", everything else as a stop.
	var msg string
	if ev.Reason == shared.EndReasonLeftVoice {
		msg = fmt.Sprintf("🎮 **%s** played **%s** in voice for **%s**",
			ev.DisplayName, ev.Game, duration)
	} else {
		msg = fmt.Sprintf("🛑 **%s** stopped playing **%s** (Duration: %s)",
			ev.DisplayName, ev.Game, duration)
	}

	return h.send(ev.CommunityID, msg)
}

func (h *OnSessionHandler) send(communityID, msg string) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.SendTimeout)
	defer cancel()

	if err := h.notifier.SendCommunityLog(ctx, communityID, msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		h.logger.Error("failed to send session notification",
			"community_id", communityID, "error", err)
		return shared.WrapError("eventhandler", "SendCommunityLog",
			shared.ErrNotificationFailed, "notification delivery failed", err)
	}

	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	return nil
}
