package telegram

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/CleanUpAlmaty/CleanUpAlmatyBot/internal/services"
)

// download fetches a Telegram file, retrying transient failures with
// exponential backoff. An empty file is reported as services.ErrEmptyPayload
// without retrying.
func (h *UpdateHandler) download(ctx context.Context, log *zap.Logger, fileID string) ([]byte, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = h.opts.DownloadBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(h.opts.DownloadAttempts-1)), ctx)

	var data []byte
	attempt := 0
	op := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, h.opts.DownloadTimeout)
		defer cancel()

		b, err := h.client.DownloadFile(attemptCtx, fileID)
		if err != nil {
			if ctx.Err() == nil && isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(b) == 0 {
			return backoff.Permanent(services.ErrEmptyPayload)
		}
		data = b
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("file download failed, retrying",
			zap.String("file_id", fileID), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return data, nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	return false
}
