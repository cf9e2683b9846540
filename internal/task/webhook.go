package task

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// webhookEnvelope is the JSON body POSTed to a task's callback URL once
// the task settles.
type webhookEnvelope struct {
	TaskID      string      `json:"taskId"`
	AgentID     string      `json:"agentId"`
	Status      Status      `json:"status"`
	Result      interface{} `json:"result,omitempty"`
	Error       *TaskError  `json:"error,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// deliverWebhook POSTs the settlement envelope. At-most-once: failures
// are logged and never retried or reflected in the task.
func (m *Manager) deliverWebhook(t Task) {
	body, err := json.Marshal(webhookEnvelope{
		TaskID:      t.ID,
		AgentID:     t.AgentID,
		Status:      t.Status,
		Result:      t.Result,
		Error:       t.Error,
		CompletedAt: t.CompletedAt,
	})
	if err != nil {
		m.logger.Warn("webhook encode failed", "task_id", t.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.CallbackURL, bytes.NewReader(body))
	if err != nil {
		m.logger.Warn("webhook request build failed", "task_id", t.ID, "url", t.CallbackURL, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn("webhook delivery failed", "task_id", t.ID, "url", t.CallbackURL, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		m.logger.Warn("webhook rejected", "task_id", t.ID, "url", t.CallbackURL, "status", resp.StatusCode)
		return
	}
	m.logger.Debug("webhook delivered", "task_id", t.ID, "status", resp.StatusCode)
}
