package interfaces

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"bazaar/internal/pkg/logger"
	"bazaar/internal/service/reservation/application"
	"bazaar/internal/service/reservation/domain"
)

const signatureHeader = "X-Payment-Signature"

// WebhookHandler 接收支付提供商的异步回调。
// 签名校验通过之后一律确认收到：处理失败走内部重试，
// 绝不依赖提供商按我们的节奏重投。
type WebhookHandler struct {
	processor *application.SettlementProcessor
	secret    []byte
}

func NewWebhookHandler(processor *application.SettlementProcessor, secret string) *WebhookHandler {
	return &WebhookHandler{processor: processor, secret: []byte(secret)}
}

func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/webhooks/payment", h.handlePaymentEvent)
}

func (h *WebhookHandler) handlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := extractTraceContext(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	// 签名覆盖原始字节，必须在任何解析之前校验
	if !h.verifySignature(body, r.Header.Get(signatureHeader)) {
		logger.Ctx(ctx).Warn().Str("remote", r.RemoteAddr).Msg("webhook signature verification failed")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var evt domain.PaymentProviderEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		// 提供商签过名的报文即使解析不了也要确认收到，
		// 打回 400 只会招来重投风暴。留痕供人工对账。
		logger.Ctx(ctx).Error().Err(err).Msg("signed webhook payload is unparseable")
		if recErr := h.processor.RecordUnparseable(ctx, body); recErr != nil {
			logger.Ctx(ctx).Error().Err(recErr).Msg("failed to record unparseable payload")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"received":true}`))
		return
	}

	if err := h.processor.Process(ctx, &evt); err != nil {
		// 传输层仍然确认收到，错误已经被登记进内部重试
		logger.Ctx(ctx).Warn().Err(err).
			Str("event_id", evt.EventID).
			Msg("settlement deferred to internal retry")
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}
