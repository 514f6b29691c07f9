package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

const (
	webhookQueueDepth = 256
	webhookTimeout    = 5 * time.Second
)

type webhookJob struct {
	sub  *models.WebhookSubscription
	body []byte
}

// WebhookDispatcher delivers accepted events to registered subscriptions on a
// background worker. Delivery is best-effort: one attempt per event with a
// short timeout, result recorded on the subscription row. A full queue drops
// the delivery instead of blocking ingestion.
type WebhookDispatcher struct {
	db     *sql.DB
	queue  chan webhookJob
	client *http.Client
	now    func() time.Time
}

// NewWebhookDispatcher constructs a dispatcher over the store.
func NewWebhookDispatcher(db *sql.DB) *WebhookDispatcher {
	return &WebhookDispatcher{
		db:     db,
		queue:  make(chan webhookJob, webhookQueueDepth),
		client: &http.Client{Timeout: webhookTimeout},
		now:    time.Now,
	}
}

// Run consumes the delivery queue until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.queue:
			d.deliver(ctx, job)
		}
	}
}

// Enqueue fans one event out to every active subscription interested in its
// type. Never blocks: a saturated queue logs and drops.
func (d *WebhookDispatcher) Enqueue(eventType string, payload interface{}) {
	subs, err := store.ListWebhooks(d.db, true)
	if err != nil {
		slog.Default().Warn("webhook subscription load failed", "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	body, err := json.Marshal(map[string]interface{}{
		"type": eventType,
		"data": payload,
	})
	if err != nil {
		slog.Default().Warn("webhook payload marshal failed", "error", err)
		return
	}

	for _, sub := range subs {
		if !subscriptionWants(sub, eventType) {
			continue
		}
		select {
		case d.queue <- webhookJob{sub: sub, body: body}:
		default:
			slog.Default().Warn("webhook queue full, delivery dropped",
				"subscription", sub.ID, "url", sub.URL)
		}
	}
}

// subscriptionWants reports whether a subscription's event filter matches.
// An empty filter matches everything.
func subscriptionWants(sub *models.WebhookSubscription, eventType string) bool {
	if len(sub.Events) == 0 {
		return true
	}
	for _, e := range sub.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

func (d *WebhookDispatcher) deliver(ctx context.Context, job webhookJob) {
	reqCtx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, job.sub.URL, bytes.NewReader(job.body))
	if err != nil {
		d.record(job.sub.ID, "", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if job.sub.Secret != "" {
		req.Header.Set("X-Devpulse-Signature", SignPayload(job.sub.Secret, job.body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.record(job.sub.ID, "", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		d.record(job.sub.ID, resp.Status, fmt.Errorf("unexpected status %s", resp.Status))
		return
	}
	d.record(job.sub.ID, resp.Status, nil)
}

func (d *WebhookDispatcher) record(id, status string, deliveryErr error) {
	errText := ""
	if deliveryErr != nil {
		errText = deliveryErr.Error()
		slog.Default().Warn("webhook delivery failed", "subscription", id, "error", deliveryErr)
	}
	if err := store.RecordWebhookDelivery(d.db, id, status, errText, deliveryErr == nil, d.now().UTC()); err != nil {
		slog.Default().Warn("webhook delivery record failed", "subscription", id, "error", err)
	}
}

// SignPayload computes the signature header value for a delivery body.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ValidateWebhookURL enforces the delivery target policy: http(s) only, and
// no private or link-local destinations. Loopback stays allowed so local
// dashboards can subscribe.
func ValidateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return models.NewValidationError("url", "must be a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return models.NewValidationError("url", "scheme must be http or https")
	}
	host := u.Hostname()
	if host == "" {
		return models.NewValidationError("url", "must include a host")
	}
	if host == "localhost" {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return checkWebhookIP(ip)
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return models.NewValidationError("url", "host does not resolve")
	}
	for _, ip := range ips {
		if err := checkWebhookIP(ip); err != nil {
			return err
		}
	}
	return nil
}

func checkWebhookIP(ip net.IP) error {
	if ip.IsLoopback() {
		return nil
	}
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return models.NewValidationError("url", "must not target a private or link-local address")
	}
	return nil
}
