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
	"sync"
	"time"

	"github.com/focushall/focushall-bot/pkg/circuitbreaker"
	"github.com/focushall/focushall-bot/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the Discord REST client.
type ClientConfig struct {
	// Token is the bot token
	Token string

	// BaseURL is the Discord API base URL (default: https://discord.com/api/v10)
	BaseURL string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiterConfig for API rate limiting
	RateLimiterConfig RateLimiterConfig

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:             token,
		BaseURL:           "https://discord.com/api/v10",
		Timeout:           30 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Discord REST API client.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier

	// DM channel cache: user id -> DM channel id. Discord creates at most one
	// DM channel per user pair, so these never go stale.
	dmChannels   map[string]string
	dmChannelsMu sync.RWMutex

	// Own user id, cached after the first /users/@me call.
	ownUser   string
	ownUserMu sync.RWMutex
}

// NewClient creates a new Discord client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://discord.com/api/v10"
	}

	logger := config.Logger
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:      logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker: circuitbreaker.DiscordAPIBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		}),
		retrier:    retry.DiscordRetrier(),
		dmChannels: make(map[string]string),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// CreateMessageParams contains parameters for posting a message.
type CreateMessageParams struct {
	Content    string      `json:"content,omitempty"`
	Components []ActionRow `json:"components,omitempty"`
}

// CreateMessage posts a message into a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID string, params CreateMessageParams) (*Message, error) {
	var msg Message
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	if err := c.doRequest(ctx, http.MethodPost, path, params, &msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &msg, nil
}

// EditMessage edits the content and/or components of a message. Nil
// components leave the existing components untouched.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID, content string, components []ActionRow) (*Message, error) {
	body := map[string]interface{}{
		"content": content,
	}
	if components != nil {
		body["components"] = components
	}

	var msg Message
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	if err := c.doRequest(ctx, http.MethodPatch, path, body, &msg); err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	return &msg, nil
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DIRECT MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// GetDMChannel resolves (and caches) the DM channel for a user.
func (c *Client) GetDMChannel(ctx context.Context, userID string) (string, error) {
	c.dmChannelsMu.RLock()
	channelID, ok := c.dmChannels[userID]
	c.dmChannelsMu.RUnlock()
	if ok {
		return channelID, nil
	}

	var ch Channel
	body := map[string]string{"recipient_id": userID}
	if err := c.doRequest(ctx, http.MethodPost, "/users/@me/channels", body, &ch); err != nil {
		return "", fmt.Errorf("get dm channel: %w", err)
	}

	c.dmChannelsMu.Lock()
	c.dmChannels[userID] = ch.ID
	c.dmChannelsMu.Unlock()
	return ch.ID, nil
}

// SendDM sends a direct message to a user.
func (c *Client) SendDM(ctx context.Context, userID, content string) (*Message, error) {
	channelID, err := c.GetDMChannel(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.CreateMessage(ctx, channelID, CreateMessageParams{Content: content})
}

// ══════════════════════════════════════════════════════════════════════════════
// GUILDS AND CHANNELS
// ══════════════════════════════════════════════════════════════════════════════

// GetChannel fetches a channel.
func (c *Client) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var ch Channel
	if err := c.doRequest(ctx, http.MethodGet, "/channels/"+channelID, nil, &ch); err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &ch, nil
}

// GetGuildRoles fetches all roles of a guild.
func (c *Client) GetGuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	var roles []Role
	path := fmt.Sprintf("/guilds/%s/roles", guildID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &roles); err != nil {
		return nil, fmt.Errorf("get guild roles: %w", err)
	}
	return roles, nil
}

// GetOwnMember fetches the bot's own guild member.
func (c *Client) GetOwnMember(ctx context.Context, guildID string) (*GuildMember, error) {
	var m GuildMember
	path := fmt.Sprintf("/guilds/%s/members/@me", guildID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &m); err != nil {
		return nil, fmt.Errorf("get own member: %w", err)
	}
	return &m, nil
}

// DisconnectMember moves a guild member out of voice by patching their voice
// channel to null. Requires the MOVE_MEMBERS permission.
func (c *Client) DisconnectMember(ctx context.Context, guildID, userID string) error {
	body := map[string]interface{}{"channel_id": nil}
	path := fmt.Sprintf("/guilds/%s/members/%s", guildID, userID)
	if err := c.doRequest(ctx, http.MethodPatch, path, body, nil); err != nil {
		return fmt.Errorf("disconnect member: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INTERACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// RespondToInteraction answers an interaction within its 3-second window.
// Interaction responses use the interaction token, not the bot token, and are
// exempt from the global rate limit - they bypass the limiter.
func (c *Client) RespondToInteraction(ctx context.Context, interactionID, interactionToken string, resp InteractionResponse) error {
	path := fmt.Sprintf("/interactions/%s/%s/callback", interactionID, interactionToken)
	if err := c.doSingleRequest(ctx, http.MethodPost, path, resp, nil); err != nil {
		return fmt.Errorf("respond to interaction: %w", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST PIPELINE
// ══════════════════════════════════════════════════════════════════════════════

// doRequest runs one API call through the rate limiter, circuit breaker, and
// retrier.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		if err := c.rateLimiter.Allow(ctx); err != nil {
			return retry.Retryable(err)
		}

		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.doSingleRequest(ctx, method, path, body, result)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || c.isRetryable(err) {
			return retry.Retryable(err)
		}
		return retry.Permanent(err)
	})
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bot "+c.config.Token)
	req.Header.Set("Content-Type", "application/json")

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

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp APIErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Message
			apiErr.RetryAfter = time.Duration(errResp.RetryAfter * float64(time.Second))
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			c.rateLimiter.RecordRateLimitHit(apiErr.RetryAfter)
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

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError represents a Discord API error response.
type APIError struct {
	Status     int           // HTTP status
	Code       int           // Discord JSON error code
	Message    string
	RetryAfter time.Duration // set on 429
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("discord api error %d (code %d): %s", e.Status, e.Code, e.Message)
}

// IsMissingPermissions reports whether the error is a permission denial.
func (e *APIError) IsMissingPermissions() bool {
	return e.Status == http.StatusForbidden &&
		(e.Code == ErrorCodeMissingPermissions || e.Code == ErrorCodeMissingAccess)
}

// IsCannotDM reports whether the error means the recipient has DMs closed.
func (e *APIError) IsCannotDM() bool {
	return e.Code == ErrorCodeCannotDMUser
}

// IsUnknownMessage reports whether the target message no longer exists.
func (e *APIError) IsUnknownMessage() bool {
	return e.Status == http.StatusNotFound && e.Code == ErrorCodeUnknownMessage
}

// isRetryable checks if an error is worth retrying.
func (c *Client) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusTooManyRequests {
			return true
		}
		if apiErr.Status >= 500 {
			return true
		}
		return false
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}

	// Network errors are retryable
	return true
}

// IsHealthy checks connectivity to the Discord API.
func (c *Client) IsHealthy(ctx context.Context) bool {
	err := c.doSingleRequest(ctx, http.MethodGet, "/users/@me", nil, nil)
	return err == nil
}

// ClientStatus is a snapshot of the client's internals, for diagnostics.
type ClientStatus struct {
	RateLimiter RateLimiterStatus
	Breaker     circuitbreaker.Counts
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter: c.rateLimiter.Status(),
		Breaker:     c.breaker.Counts(),
	}
}
