package services

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type CaptchaService interface {
	// Verify is fail-closed: transport errors, timeouts and non-success
	// responses all return false.
	Verify(ctx context.Context, token, remoteIP string) bool
}

type captchaService struct {
	secret    string
	verifyURL string
	client    *http.Client
}

func NewCaptchaService(secret, verifyURL string) CaptchaService {
	return &captchaService{
		secret:    secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *captchaService) Verify(ctx context.Context, token, remoteIP string) bool {
	if strings.TrimSpace(token) == "" {
		return false
	}

	form := url.Values{}
	form.Set("secret", s.secret)
	form.Set("response", token)
	form.Set("remoteip", remoteIP)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		log.Printf("[captcha][verify] build request failed: err=%v", err)
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[captcha][verify] transport error: err=%v", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[captcha][verify] unexpected status=%d", resp.StatusCode)
		return false
	}

	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Printf("[captcha][verify] decode failed: err=%v", err)
		return false
	}
	return body.Success
}
