// Package email sends transactional template emails, fire-and-forget.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "ordersentry/pkg/logx"
)

type Config struct {
	Enabled    bool
	Endpoint   string // template-email API endpoint
	ServiceID  string
	PublicKey  string
	RatePerMin int // cap on outbound sends; 0 means default
}

// Sender posts template sends to an EmailJS-style REST API.
//
// Delivery is best-effort: failures are logged and swallowed, callers in the
// alert path never see them.
type Sender struct {
	cfg     Config
	log     logx.Logger
	http    *http.Client
	limiter *rate.Limiter
}

func NewSender(cfg Config, log logx.Logger) *Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	rpm := cfg.RatePerMin
	if rpm <= 0 {
		rpm = 30
	}
	return &Sender{
		cfg:     cfg,
		log:     log,
		http:    &http.Client{Timeout: 8 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}
}

// Send posts one template email. It returns an error only so tests can
// observe outcomes; production callers ignore it by contract.
func (s *Sender) Send(ctx context.Context, templateID string, vars map[string]string) error {
	if s == nil || !s.cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(s.cfg.Endpoint) == "" {
		return nil
	}
	if !s.limiter.Allow() {
		s.log.Warn("email rate limited; dropping send", logx.String("template", templateID))
		return nil
	}

	payload := map[string]any{
		"service_id":      s.cfg.ServiceID,
		"template_id":     templateID,
		"user_id":         s.cfg.PublicKey,
		"template_params": vars,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("email payload marshal failed", logx.Err(err))
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		s.log.Error("email request build failed", logx.Err(err))
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		s.log.Warn("email send failed", logx.String("template", templateID), logx.Err(err))
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("email api status %d", resp.StatusCode)
		s.log.Warn("email send rejected", logx.String("template", templateID), logx.Err(err))
		return err
	}
	s.log.Debug("email sent", logx.String("template", templateID))
	return nil
}
