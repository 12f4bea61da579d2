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
// PROGRESSION NOTIFICATIONS AND ROLE GRANTS
// Announces level-ups and milestone titles, and mirrors earned titles onto
// community roles. Role grants are best effort: the title is already
// persisted, so a failed grant costs a cosmetic role, not progression.
// ═══════════════════════════════════════════════════════════════════════════

// ProgressionConfig contains configuration for the progression handler.
type ProgressionConfig struct {
	// GrantRoles controls whether earned titles are mirrored onto
	// community roles of the same name.
	GrantRoles bool

	// SendTimeout bounds each outbound call.
	SendTimeout time.Duration
}

// DefaultProgressionConfig returns sensible defaults.
func DefaultProgressionConfig() ProgressionConfig {
	return ProgressionConfig{
		GrantRoles:  true,
		SendTimeout: 10 * time.Second,
	}
}

// OnProgressionHandler announces level-ups and title grants.
type OnProgressionHandler struct {
	notifier Notifier
	roles    RoleGranter
	cache    ProfileCache
	logger   *slog.Logger
	config   ProgressionConfig
}

// NewOnProgressionHandler creates a new OnProgressionHandler. The cache is
// optional; without it profile reads stay stale until the TTL expires.
func NewOnProgressionHandler(notifier Notifier, roles RoleGranter, cache ProfileCache, logger *slog.Logger, config ProgressionConfig) *OnProgressionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultProgressionConfig().SendTimeout
	}
	return &OnProgressionHandler{
		notifier: notifier,
		roles:    roles,
		cache:    cache,
		logger:   logger.With("handler", "on_progression"),
		config:   config,
	}
}

// HandleLevelUp processes a LevelUpEvent. Implements shared.EventHandler.
func (h *OnProgressionHandler) HandleLevelUp(event shared.Event) error {
	ev, ok := event.(shared.LevelUpEvent)
	if !ok {
		h.logger.Warn("received non-LevelUpEvent", "event_type", event.EventType())
		return nil
	}

	h.invalidateProfile(ev.CommunityID, ev.UserID)

	msg := fmt.Sprintf("🏆 **%s** reached **Level %d**! (total playtime: %s)",
		ev.DisplayName, ev.NewLevel, timeutil.FormatCompact(ev.TotalSeconds))

	return h.send(ev.CommunityID, msg)
}

// HandleTitleEarned processes a TitleEarnedEvent. Implements shared.EventHandler.
func (h *OnProgressionHandler) HandleTitleEarned(event shared.Event) error {
	ev, ok := event.(shared.TitleEarnedEvent)
	if !ok {
		h.logger.Warn("received non-TitleEarnedEvent", "event_type", event.EventType())
		return nil
	}

	h.invalidateProfile(ev.CommunityID, ev.UserID)

	msg := fmt.Sprintf("🎖️ **%s** earned the title **%s**!", ev.DisplayName, ev.Title)
	if err := h.send(ev.CommunityID, msg); err != nil {
		// Keep going: the role grant is independent of the announcement.
		h.logger.Error("title announcement failed",
			"community_id", ev.CommunityID, "title", ev.Title, "error", err)
	}

	if !h.config.GrantRoles || h.roles == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.SendTimeout)
	defer cancel()

	if err := h.roles.GrantRole(ctx, ev.CommunityID, ev.UserID, ev.Title); err != nil {
		metrics.RoleGrantsTotal.WithLabelValues("failed").Inc()
		h.logger.Error("failed to grant title role",
			"community_id", ev.CommunityID,
			"user_id", ev.UserID,
			"title", ev.Title,
			"error", err,
		)
		return shared.WrapError("eventhandler", "GrantRole",
			shared.ErrRoleGrantFailed, "role grant failed", err)
	}

	metrics.RoleGrantsTotal.WithLabelValues("granted").Inc()
	h.logger.Info("granted title role",
		"community_id", ev.CommunityID, "user_id", ev.UserID, "title", ev.Title)
	return nil
}

// invalidateProfile drops the cached profile view, best effort: the stored
// progression is already durable, a failed invalidation only delays reads.
func (h *OnProgressionHandler) invalidateProfile(communityID, userID string) {
	if h.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.SendTimeout)
	defer cancel()

	if err := h.cache.InvalidateProfile(ctx, communityID, userID); err != nil {
		h.logger.Warn("profile cache invalidation failed",
			"community_id", communityID, "user_id", userID, "error", err)
	}
}

func (h *OnProgressionHandler) send(communityID, msg string) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.SendTimeout)
	defer cancel()

	if err := h.notifier.SendCommunityLog(ctx, communityID, msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return shared.WrapError("eventhandler", "SendCommunityLog",
			shared.ErrNotificationFailed, "notification delivery failed", err)
	}

	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	return nil
}
