// Package discord implements a minimal Discord REST API client for the
// outbound side effects of the tracker: log-channel messages and milestone
// role grants. Inbound gateway traffic arrives through the HTTP ingest
// endpoints, so only the REST surface is needed here.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gametime-hub/gametime-tracker/pkg/circuitbreaker"
	"github.com/gametime-hub/gametime-tracker/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Discord client.
type ClientConfig struct {
	// Token is the bot token.
	Token string

	// BaseURL is the Discord API base URL (default: https://discord.com/api/v10).
	BaseURL string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// LogChannelName is the text channel where session summaries are
	// posted (default: "bot-log").
	LogChannelName string

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables debug logging of every API call.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:          token,
		BaseURL:        "https://discord.com/api/v10",
		Timeout:        15 * time.Second,
		LogChannelName: "bot-log",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// API TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Channel is the subset of a Discord channel object the client needs.
type Channel struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    int    `json:"type"`
	GuildID string `json:"guild_id,omitempty"`
}

// channelTypeGuildText is the Discord channel type for guild text channels.
const channelTypeGuildText = 0

// Role is the subset of a Discord role object the client needs.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is the subset of a Discord message object the client needs.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// apiError is the Discord error response body.
type apiError struct {
	Code    int     `json:"code"`
	Message string  `json:"message"`
	Retry   float64 `json:"retry_after,omitempty"`
}

// APIError represents a Discord API error.
type APIError struct {
	Status     int
	Code       int
	Message    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("discord api error: status %d, code %d: %s", e.Status, e.Code, e.Message)
}

// IsRateLimited reports whether the error is a 429.
func (e *APIError) IsRateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Discord REST API client. Calls run through a retrier for
// transient failures and a circuit breaker so a dead Discord API fails fast
// instead of queueing work.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger

	// Log channel and role lookups are cached per guild; both change
	// rarely and the lookups are one extra round trip each.
	mu          sync.RWMutex
	logChannels map[string]string // guildID -> channelID
	roles       map[string]string // guildID:roleName -> roleID
}

// NewClient creates a new Discord client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://discord.com/api/v10"
	}
	if config.LogChannelName == "" {
		config.LogChannelName = "bot-log"
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	logger := config.Logger
	breaker := circuitbreaker.DiscordAPIBreaker(func(name string, from, to circuitbreaker.State) {
		logger.Warn("circuit breaker state change",
			"breaker", name, "from", from.String(), "to", to.String())
	})

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retrier:     retry.DiscordRetrier(),
		breaker:     breaker,
		logger:      logger,
		logChannels: make(map[string]string),
		roles:       make(map[string]string),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// SendChannelMessage posts a plain content message to a channel.
func (c *Client) SendChannelMessage(ctx context.Context, channelID, content string) (*Message, error) {
	if channelID == "" {
		return nil, errors.New("discord: channel ID cannot be empty")
	}

	var message Message
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	body := map[string]interface{}{"content": content}

	if err := c.call(ctx, http.MethodPost, path, body, &message); err != nil {
		return nil, fmt.Errorf("send channel message: %w", err)
	}
	return &message, nil
}

// SendLogMessage posts a message to the guild's log channel. The channel is
// resolved by name on first use and cached.
func (c *Client) SendLogMessage(ctx context.Context, guildID, content string) error {
	channelID, err := c.logChannelID(ctx, guildID)
	if err != nil {
		return err
	}

	_, err = c.SendChannelMessage(ctx, channelID, content)
	return err
}

// logChannelID resolves and caches the log channel for a guild.
func (c *Client) logChannelID(ctx context.Context, guildID string) (string, error) {
	c.mu.RLock()
	id, ok := c.logChannels[guildID]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	var channels []Channel
	path := fmt.Sprintf("/guilds/%s/channels", guildID)
	if err := c.call(ctx, http.MethodGet, path, nil, &channels); err != nil {
		return "", fmt.Errorf("list guild channels: %w", err)
	}

	for _, ch := range channels {
		if ch.Type == channelTypeGuildText && ch.Name == c.config.LogChannelName {
			c.mu.Lock()
			c.logChannels[guildID] = ch.ID
			c.mu.Unlock()
			return ch.ID, nil
		}
	}

	return "", fmt.Errorf("discord: guild %s has no %q channel", guildID, c.config.LogChannelName)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROLES
// ══════════════════════════════════════════════════════════════════════════════

// GrantRoleByName assigns the named role to a guild member. The role must
// already exist in the guild.
func (c *Client) GrantRoleByName(ctx context.Context, guildID, userID, roleName string) error {
	roleID, err := c.roleID(ctx, guildID, roleName)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", guildID, userID, roleID)
	if err := c.call(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("grant role %q: %w", roleName, err)
	}
	return nil
}

// roleID resolves and caches a role by name.
func (c *Client) roleID(ctx context.Context, guildID, roleName string) (string, error) {
	cacheKey := guildID + ":" + roleName

	c.mu.RLock()
	id, ok := c.roles[cacheKey]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	var roles []Role
	path := fmt.Sprintf("/guilds/%s/roles", guildID)
	if err := c.call(ctx, http.MethodGet, path, nil, &roles); err != nil {
		return "", fmt.Errorf("list guild roles: %w", err)
	}

	for _, r := range roles {
		if strings.EqualFold(r.Name, roleName) {
			c.mu.Lock()
			c.roles[cacheKey] = r.ID
			c.mu.Unlock()
			return r.ID, nil
		}
	}

	return "", fmt.Errorf("discord: guild %s has no role %q", guildID, roleName)
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// call runs one API operation through the breaker and the retrier.
func (c *Client) call(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			err := c.doRequest(ctx, method, path, body, result)
			if err == nil {
				return nil
			}

			var apiErr *APIError
			if errors.As(err, &apiErr) {
				if apiErr.IsRateLimited() && apiErr.RetryAfter > 0 {
					select {
					case <-ctx.Done():
						return retry.Permanent(ctx.Err())
					case <-time.After(apiErr.RetryAfter):
					}
					return retry.Retryable(err)
				}
				if apiErr.Status >= 500 {
					return retry.Retryable(err)
				}
				// 4xx other than rate limits will not improve on retry.
				return retry.Permanent(err)
			}

			// Network level failures are retryable.
			return retry.Retryable(err)
		})
	})
}

// doRequest performs a single HTTP request against the API.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bot "+c.config.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.config.Debug {
		c.logger.Debug("discord api call", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}

		var parsed apiError
		if json.Unmarshal(respBody, &parsed) == nil {
			apiErr.Code = parsed.Code
			apiErr.Message = parsed.Message
			apiErr.RetryAfter = time.Duration(parsed.Retry * float64(time.Second))
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}

	return nil
}
