package talk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRequestTimeout = 60 * time.Second
	maxLongPollTimeout    = 30 * time.Second
	maxErrorBodyBytes     = 1024
	maxAvatarBytes        = 2 * 1024 * 1024

	headerLastGiven      = "X-Chat-Last-Given"
	headerLastCommonRead = "X-Chat-Last-Common-Read"

	pathCurrentUser   = "/ocs/v2.php/cloud/user"
	pathRooms         = "/ocs/v2.php/apps/spreed/api/v4/room"
	pathChat          = "/ocs/v2.php/apps/spreed/api/v1/chat/"
	pathRoomAvatarFmt = "/ocs/v2.php/apps/spreed/api/v1/room/%s/avatar"
	pathRoomPeopleFmt = "/ocs/v2.php/apps/spreed/api/v4/room/%s/participants"
)

// ClientConfig configures the Nextcloud Talk OCS client.
type ClientConfig struct {
	Endpoint   string
	User       string
	Password   string
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client talks to the Nextcloud Talk OCS API over HTTP basic auth.
type Client struct {
	base      *url.URL
	user      string
	password  string
	client    *http.Client
	logger    *slog.Logger
	userAgent string
}

var _ Service = (*Client)(nil)

type ocsEnvelope[T any] struct {
	OCS struct {
		Meta struct {
			Status     string `json:"status"`
			StatusCode int    `json:"statuscode"`
			Message    string `json:"message"`
		} `json:"meta"`
		Data T `json:"data"`
	} `json:"ocs"`
}

type userPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayname"`
}

type conversationPayload struct {
	Token          *string `json:"token"`
	DisplayName    *string `json:"displayName"`
	Type           int     `json:"type"`
	UnreadMessages int     `json:"unreadMessages"`
}

type messagePayload struct {
	ID               *int64  `json:"id"`
	Token            string  `json:"token"`
	ActorType        string  `json:"actorType"`
	ActorID          string  `json:"actorId"`
	ActorDisplayName string  `json:"actorDisplayName"`
	Timestamp        *int64  `json:"timestamp"`
	Message          *string `json:"message"`
	SystemMessage    string  `json:"systemMessage"`
}

type participantPayload struct {
	ActorID     *string `json:"actorId"`
	ActorType   string  `json:"actorType"`
	DisplayName string  `json:"displayName"`
	Status      string  `json:"status"`
}

func NewClient(cfg ClientConfig) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported endpoint scheme: %q", base.Scheme)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "talk")
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = "nctalk"
	}

	return &Client{
		base:      base,
		user:      strings.TrimSpace(cfg.User),
		password:  cfg.Password,
		client:    client,
		logger:    logger,
		userAgent: userAgent,
	}, nil
}

func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	const op = "get current user"

	resp, err := c.do(ctx, op, http.MethodGet, pathCurrentUser, nil, nil)
	if err != nil {
		return User{}, err
	}
	defer closeBody(resp)

	payload, err := decodeOCS[userPayload](ctx, op, resp.Body)
	if err != nil {
		return User{}, err
	}
	if strings.TrimSpace(payload.ID) == "" {
		return User{}, &ValidationError{Kind: "user", Field: "id"}
	}

	return User{ID: payload.ID, DisplayName: payload.DisplayName}, nil
}

func (c *Client) GetConversations(ctx context.Context) ([]Conversation, error) {
	const op = "get conversations"

	resp, err := c.do(ctx, op, http.MethodGet, pathRooms, nil, nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	payload, err := decodeOCS[[]conversationPayload](ctx, op, resp.Body)
	if err != nil {
		return nil, err
	}

	out := make([]Conversation, 0, len(payload))
	for i, item := range payload {
		if item.Token == nil || strings.TrimSpace(*item.Token) == "" {
			return nil, &ValidationError{Kind: "conversation", Field: "token", Index: i}
		}
		if item.DisplayName == nil {
			return nil, &ValidationError{Kind: "conversation", Field: "displayName", Index: i}
		}
		out = append(out, Conversation{
			Token:          *item.Token,
			DisplayName:    *item.DisplayName,
			Type:           item.Type,
			UnreadMessages: item.UnreadMessages,
		})
	}
	c.logger.Debug("fetched conversations", "count", len(out))

	return out, nil
}

// GetConversationMessages fetches one page of messages. History mode (no
// cursor, no waiting) reports the newest id of the page as LastGiven because
// the server header then points at the oldest message.
func (c *Client) GetConversationMessages(ctx context.Context, req MessagesRequest) (MessagesPage, error) {
	const op = "get conversation messages"

	token := strings.TrimSpace(req.Token)
	if token == "" {
		return MessagesPage{}, errors.New("conversation token is required")
	}

	history := !req.WaitForNew && req.SinceID <= 0
	query := url.Values{}
	query.Set("setReadMarker", "0")
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}
	if history {
		query.Set("lookIntoFuture", "0")
	} else {
		query.Set("lookIntoFuture", "1")
		query.Set("lastKnownMessageId", strconv.FormatInt(req.SinceID, 10))
		query.Set("timeout", strconv.Itoa(longPollSeconds(req)))
	}

	resp, err := c.do(ctx, op, http.MethodGet, pathChat+url.PathEscape(token), query, nil)
	if err != nil {
		return MessagesPage{}, err
	}
	defer closeBody(resp)

	payload, err := decodeOCS[[]messagePayload](ctx, op, resp.Body)
	if err != nil {
		return MessagesPage{}, err
	}

	page := MessagesPage{
		Messages: make([]Message, 0, len(payload)),
		Cursor: Cursor{
			LastGiven:      headerInt(resp.Header, headerLastGiven),
			LastCommonRead: headerInt(resp.Header, headerLastCommonRead),
		},
	}
	var newest int64
	for i, item := range payload {
		switch {
		case item.ID == nil:
			return MessagesPage{}, &ValidationError{Kind: "message", Field: "id", Index: i}
		case item.Timestamp == nil:
			return MessagesPage{}, &ValidationError{Kind: "message", Field: "timestamp", Index: i}
		case item.Message == nil:
			return MessagesPage{}, &ValidationError{Kind: "message", Field: "message", Index: i}
		}
		if *item.ID > newest {
			newest = *item.ID
		}
		page.Messages = append(page.Messages, Message{
			ID:               *item.ID,
			Token:            token,
			ActorID:          item.ActorID,
			ActorType:        item.ActorType,
			ActorDisplayName: item.ActorDisplayName,
			Text:             *item.Message,
			Timestamp:        *item.Timestamp,
			SystemMessage:    item.SystemMessage,
		})
	}
	if history {
		page.Cursor.LastGiven = newest
	}
	c.logger.Debug(
		"fetched messages",
		"token", token,
		"since_id", req.SinceID,
		"wait", req.WaitForNew,
		"count", len(page.Messages),
		"last_given", page.Cursor.LastGiven,
		"last_common_read", page.Cursor.LastCommonRead,
	)

	return page, nil
}

func (c *Client) GetConversationParticipants(ctx context.Context, token string) ([]Participant, error) {
	const op = "get conversation participants"

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("conversation token is required")
	}

	resp, err := c.do(ctx, op, http.MethodGet, fmt.Sprintf(pathRoomPeopleFmt, url.PathEscape(token)), nil, nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	payload, err := decodeOCS[[]participantPayload](ctx, op, resp.Body)
	if err != nil {
		return nil, err
	}

	out := make([]Participant, 0, len(payload))
	for i, item := range payload {
		if item.ActorID == nil {
			return nil, &ValidationError{Kind: "participant", Field: "actorId", Index: i}
		}
		out = append(out, Participant{
			ActorID:     *item.ActorID,
			ActorType:   item.ActorType,
			DisplayName: item.DisplayName,
			Status:      item.Status,
		})
	}

	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, token, text string) error {
	const op = "send message"

	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("conversation token is required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("message body is empty")
	}

	body, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	resp, err := c.do(ctx, op, http.MethodPost, pathChat+url.PathEscape(token), nil, body)
	if err != nil {
		return err
	}
	closeBody(resp)

	return nil
}

// FetchRoomAvatar downloads the avatar image of a conversation.
func (c *Client) FetchRoomAvatar(ctx context.Context, token string) ([]byte, error) {
	const op = "get room avatar"

	resp, err := c.do(ctx, op, http.MethodGet, fmt.Sprintf(pathRoomAvatarFmt, url.PathEscape(token)), nil, nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAvatarBytes))
	if err != nil {
		return nil, c.transportError(ctx, op, err)
	}

	return data, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body []byte) (*http.Response, error) {
	target := *c.base
	target.Path = strings.TrimRight(c.base.Path, "/") + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("OCS-APIRequest", "true")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, op, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusCreated:
		return resp, nil
	case resp.StatusCode == http.StatusNotModified:
		closeBody(resp)

		return nil, ErrNotModified
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		closeBody(resp)

		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	closeBody(resp)
	statusErr := &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, &TransientError{Op: op, Err: statusErr}
	}

	return nil, statusErr
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.logger.Debug("transport failure", "op", op, "error", err)

	return &TransientError{Op: op, Err: err}
}

func decodeOCS[T any](ctx context.Context, op string, r io.Reader) (T, error) {
	var envelope ocsEnvelope[T]
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		var zero T
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		return zero, &TransientError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}

	return envelope.OCS.Data, nil
}

func longPollSeconds(req MessagesRequest) int {
	if !req.WaitForNew || req.Timeout <= 0 {
		return 0
	}
	timeout := req.Timeout
	if timeout > maxLongPollTimeout {
		timeout = maxLongPollTimeout
	}

	return int(math.Ceil(timeout.Seconds()))
}

func headerInt(h http.Header, key string) int64 {
	raw := strings.TrimSpace(h.Get(key))
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0
	}

	return v
}

func closeBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
	_ = resp.Body.Close()
}
