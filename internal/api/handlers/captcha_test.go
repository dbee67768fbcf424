package handlers

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCaptchaHandler_MemoryOverloaded(t *testing.T) {
	cfg := testConfig()
	cfg.MemoryRejectMB = 0
	f := newFixture(t, cfg)
	h := f.captchaHandler()

	_, err := h.Handle(context.Background())
	assertStatus(t, err, 503)
	if !strings.Contains(err.Error(), "服务器内存不足") {
		t.Errorf("expected the overload message, got %q", err.Error())
	}
}

func TestCaptchaHandler_PoolExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.BrowserPoolSize = 0 // nothing idle and nothing may launch
	f := newFixture(t, cfg)
	h := f.captchaHandler()

	start := time.Now()
	_, err := h.Handle(context.Background())
	assertStatus(t, err, 503)

	if !strings.Contains(err.Error(), "暂无可用浏览器") {
		t.Errorf("expected the exhaustion message, got %q", err.Error())
	}
	if elapsed := time.Since(start); elapsed < cfg.BrowserAcquireTimeout {
		t.Errorf("expected the acquire window to elapse, returned after %v", elapsed)
	}
}
