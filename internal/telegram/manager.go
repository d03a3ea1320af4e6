package telegram

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookRoute is where Telegram posts updates in webhook mode.
const WebhookRoute = "/webhook/bot/:secret"

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateSource is the part of the Bot API that delivers updates.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	SetWebhook(ctx context.Context, url, secretToken string) error
	DeleteWebhook(ctx context.Context) error
}

type UpdateProcessor interface {
	Handle(ctx context.Context, upd Update)
}

// BotManager feeds updates to the handler, either from a webhook or from
// long polling. Updates from one sender are handled one at a time in arrival
// order. Different senders run concurrently.
type BotManager struct {
	api            UpdateSource
	handler        UpdateProcessor
	logger         *zap.Logger
	pathSecret     string
	webhookBaseURL string
	webhookSecret  string
	pollTimeout    time.Duration

	baseCtx    context.Context
	cancelBase context.CancelFunc
	stopPoll   context.CancelFunc
	pollDone   chan struct{}
	inflight   sync.WaitGroup

	mu      sync.Mutex
	started bool
	webhook bool

	qmu    sync.Mutex
	queues map[int64]*senderQueue
}

// senderQueue holds updates waiting behind the one being handled.
type senderQueue struct {
	pending []Update
}

func NewBotManager(
	api UpdateSource,
	handler UpdateProcessor,
	token string,
	webhookBaseURL string,
	webhookSecret string,
	pollTimeout time.Duration,
	logger *zap.Logger,
) *BotManager {
	if webhookSecret == "" {
		webhookSecret = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	base, cancel := context.WithCancel(context.Background())
	return &BotManager{
		api:            api,
		handler:        handler,
		logger:         logger,
		pathSecret:     tokenSecret(token),
		webhookBaseURL: strings.TrimRight(webhookBaseURL, "/"),
		webhookSecret:  webhookSecret,
		pollTimeout:    pollTimeout,
		baseCtx:        base,
		cancelBase:     cancel,
		queues:         make(map[int64]*senderQueue),
	}
}

func tokenSecret(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h[:16])
}

// WebhookMode reports whether updates arrive through HandleWebhook.
func (m *BotManager) WebhookMode() bool {
	return m.webhookBaseURL != ""
}

func (m *BotManager) WebhookURL() string {
	return m.webhookBaseURL + strings.Replace(WebhookRoute, ":secret", m.pathSecret, 1)
}

// Start registers the webhook or launches the polling loop.
func (m *BotManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	if m.WebhookMode() {
		if err := m.api.SetWebhook(ctx, m.WebhookURL(), m.webhookSecret); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		m.webhook = true
		m.started = true
		m.logger.Info("bot started in webhook mode")
		return nil
	}

	if err := m.api.DeleteWebhook(ctx); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	pollCtx, stop := context.WithCancel(m.baseCtx)
	m.stopPoll = stop
	m.pollDone = make(chan struct{})
	go m.poll(pollCtx)
	m.started = true
	m.logger.Info("bot started in polling mode", zap.Duration("poll_timeout", m.pollTimeout))
	return nil
}

// Stop stops accepting updates and waits for in-flight ones until ctx ends.
func (m *BotManager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false

	if m.stopPoll != nil {
		m.stopPoll()
		<-m.pollDone
	}
	if m.webhook {
		if err := m.api.DeleteWebhook(ctx); err != nil {
			m.logger.Warn("failed to delete webhook", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("stopped with updates still in flight")
	}
	m.cancelBase()
	m.logger.Info("bot stopped")
}

func (m *BotManager) poll(ctx context.Context) {
	defer close(m.pollDone)

	retry := backoff.NewExponentialBackOff()
	retry.MaxInterval = time.Minute
	retry.MaxElapsedTime = 0

	var offset int64
	for ctx.Err() == nil {
		updates, err := m.api.GetUpdates(ctx, offset, m.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := retry.NextBackOff()
			m.logger.Warn("getUpdates failed", zap.Duration("retry_in", wait), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			m.dispatch(upd)
		}
	}
}

func senderID(upd Update) (int64, bool) {
	switch {
	case upd.CallbackQuery != nil:
		return upd.CallbackQuery.From.ID, true
	case upd.Message != nil && upd.Message.From != nil:
		return upd.Message.From.ID, true
	}
	return 0, false
}

func (m *BotManager) dispatch(upd Update) {
	m.inflight.Add(1)
	id, ok := senderID(upd)
	if !ok {
		go m.handle(upd)
		return
	}

	m.qmu.Lock()
	if q, busy := m.queues[id]; busy {
		q.pending = append(q.pending, upd)
		m.qmu.Unlock()
		return
	}
	q := &senderQueue{}
	m.queues[id] = q
	m.qmu.Unlock()

	go m.drain(id, q, upd)
}

// drain handles upd and then everything queued behind it for the same
// sender. The queue is dropped once empty.
func (m *BotManager) drain(id int64, q *senderQueue, upd Update) {
	for {
		m.handle(upd)

		m.qmu.Lock()
		if len(q.pending) == 0 {
			delete(m.queues, id)
			m.qmu.Unlock()
			return
		}
		upd = q.pending[0]
		q.pending = q.pending[1:]
		m.qmu.Unlock()
	}
}

func (m *BotManager) handle(upd Update) {
	defer m.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("update handler panicked", zap.Int64("update_id", upd.UpdateID), zap.Any("panic", r))
		}
	}()
	m.handler.Handle(m.baseCtx, upd)
}

func (m *BotManager) HandleWebhook(c *gin.Context) {
	if subtle.ConstantTimeCompare([]byte(c.Param("secret")), []byte(m.pathSecret)) != 1 {
		c.Status(http.StatusNotFound)
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.GetHeader(secretHeader)), []byte(m.webhookSecret)) != 1 {
		c.Status(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	var upd Update
	if err := json.Unmarshal(body, &upd); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	m.dispatch(upd)
	c.Status(http.StatusOK)
}
