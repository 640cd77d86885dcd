package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrSessionRejected は外部IdPがセッションIDを拒否したことを示す。
	ErrSessionRejected = errors.New("external session rejected")

	// ErrUpstreamUnavailable は外部IdPに到達できないことを示す。
	ErrUpstreamUnavailable = errors.New("identity provider unavailable")
)

// maxAssertionBodySize は外部IdPのレスポンスボディ上限。
const maxAssertionBodySize = 64 << 10

// AssertedIdentity は外部IdPが保証したアイデンティティ情報を表す。
type AssertedIdentity struct {
	ExternalID string `json:"id"`
	Email      string `json:"email" validate:"required,email,max=320"`
	Name       string `json:"name" validate:"max=255"`
	Picture    string `json:"picture" validate:"omitempty,url"`
}

// IdentityAsserter は外部セッションIDをアイデンティティに交換するインターフェース。
// 拒否はErrSessionRejected、到達不能はErrUpstreamUnavailableでラップして返す。
type IdentityAsserter interface {
	Assert(ctx context.Context, externalSessionID string) (*AssertedIdentity, error)
}

// HTTPAsserterConfig はHTTPAsserterの設定。
type HTTPAsserterConfig struct {
	SessionDataURL string
	Timeout        time.Duration
}

// HTTPAsserter は外部IdPのsession-dataエンドポイントを呼び出してアイデンティティを取得する。
type HTTPAsserter struct {
	config HTTPAsserterConfig
	client *http.Client
}

// NewHTTPAsserter はHTTPAsserterを生成する。
func NewHTTPAsserter(config HTTPAsserterConfig) *HTTPAsserter {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &HTTPAsserter{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Assert はX-Session-IDヘッダーに外部セッションIDを載せてsession-dataを取得する。
// 4xxは拒否、5xxと通信エラーは到達不能として扱う。
func (a *HTTPAsserter) Assert(ctx context.Context, externalSessionID string) (*AssertedIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.SessionDataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session data request: %w", err)
	}
	req.Header.Set("X-Session-ID", externalSessionID)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: session data request failed: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssertionBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read session data response: %v", ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: session data returned status %d", ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: session data returned status %d", ErrSessionRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected session data status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var identity AssertedIdentity
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, fmt.Errorf("%w: failed to parse session data response: %v", ErrSessionRejected, err)
	}

	return &identity, nil
}

// compile-time interface check
var _ IdentityAsserter = (*HTTPAsserter)(nil)
