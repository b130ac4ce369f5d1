package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"TradeWatch/internal/domain/models"
	domrepo "TradeWatch/internal/domain/repository"
	"TradeWatch/internal/repository"
	xhttp "TradeWatch/pkg/http"
	"TradeWatch/pkg/logger"
	"TradeWatch/pkg/queue"
)

// Webhook flavours.
const (
	WebhookGeneric  = "generic"
	WebhookDingTalk = "dingtalk"
	WebhookFeishu   = "feishu"
)

// WebhookConfig describes the chat robot receiving notifications.
type WebhookConfig struct {
	URL  string
	Type string
	// Keyword must appear in DingTalk messages when the robot uses keyword security.
	Keyword string
}

// WebhookJob delivers queued notifications to a webhook. Errors are returned
// to the queue, which retries and finally dead-letters the message.
type WebhookJob struct {
	cfg     WebhookConfig
	client  *xhttp.Client
	metrics domrepo.Metrics
	logger  *logger.Logger
}

func NewWebhookJob(cfg WebhookConfig, client *xhttp.Client, metrics domrepo.Metrics, l *logger.Logger) *WebhookJob {
	if l == nil {
		l = logger.Nop()
	}
	if client == nil {
		client = xhttp.NewClient()
	}
	if cfg.Type == "" {
		cfg.Type = WebhookGeneric
	}
	return &WebhookJob{cfg: cfg, client: client, metrics: metrics, logger: l}
}

func (j *WebhookJob) Name() string { return "webhook-delivery" }
func (j *WebhookJob) Type() string { return repository.WebhookMessageType }

// robotReply covers both DingTalk (errcode) and Feishu (code) replies.
type robotReply struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

func (j *WebhookJob) Handle(ctx context.Context, payload json.RawMessage) error {
	var n models.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		// undecodable payloads cannot succeed on retry
		j.logger.Error("webhook payload dropped", logger.Error(err))
		return nil
	}
	return j.Send(ctx, &n)
}

// Send delivers n directly, without the queue. It makes WebhookJob usable as
// a notification sink when Redis is not configured.
func (j *WebhookJob) Send(ctx context.Context, n *models.Notification) error {
	var reply robotReply
	err := j.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     j.cfg.URL,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    j.body(n),
	}, &reply)
	if err == nil && reply.ErrCode != 0 {
		err = fmt.Errorf("dingtalk errcode %d: %s", reply.ErrCode, reply.ErrMsg)
	}
	if err == nil && reply.Code != 0 {
		err = fmt.Errorf("feishu code %d: %s", reply.Code, reply.Msg)
	}
	if err != nil {
		j.metrics.RecordError("webhook_delivery")
		return fmt.Errorf("deliver %s: %w", n.ID, err)
	}

	j.metrics.RecordMessageSent("webhook", string(n.Kind))
	j.logger.Debug("webhook delivered", logger.String("id", n.ID), logger.String("type", j.cfg.Type))
	return nil
}

func (j *WebhookJob) body(n *models.Notification) interface{} {
	switch j.cfg.Type {
	case WebhookDingTalk:
		text := "### " + n.Title + "\n\n" + n.Body
		if j.cfg.Keyword != "" && !strings.Contains(text, j.cfg.Keyword) {
			text += "\n\n" + j.cfg.Keyword
		}
		return map[string]interface{}{
			"msgtype":  "markdown",
			"markdown": map[string]string{"title": n.Title, "text": text},
		}
	case WebhookFeishu:
		return map[string]interface{}{
			"msg_type": "text",
			"content":  map[string]string{"text": n.Title + "\n" + n.Body},
		}
	default:
		return n
	}
}

var (
	_ queue.Job                = (*WebhookJob)(nil)
	_ domrepo.NotificationSink = (*WebhookJob)(nil)
)
