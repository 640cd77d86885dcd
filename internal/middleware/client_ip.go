package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const clientIPContextKey contextKey = "client_ip"

// unknownClientIP はRemoteAddrが解釈できない場合の値。
const unknownClientIP = "unknown"

// ClientIPResolver は接続元と、信頼するプロキシが付けた転送ヘッダーからクライアントIPを決める。
// 信頼するプロキシがない場合、X-Forwarded-For と X-Real-IP は無視する。
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver は信頼するプロキシのIPまたはCIDRの一覧から ClientIPResolver を作る。
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	prefixes, err := ParseTrustedProxies(trustedProxies)
	if err != nil {
		return nil, err
	}
	return &ClientIPResolver{trusted: prefixes}, nil
}

// ParseTrustedProxies は "10.0.0.0/8" や "192.0.2.1" の形式を受け付ける。
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (c *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	if c == nil {
		return false
	}
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolve はクライアントIPを正規化した文字列で返す。
// 接続元が信頼するプロキシの場合のみ、X-Forwarded-For を右から辿り最初の信頼しないアドレスを採る。
func (c *ClientIPResolver) Resolve(r *http.Request) string {
	remote, ok := remoteAddr(r)
	if !ok {
		return unknownClientIP
	}
	if !c.isTrusted(remote) {
		return remote.String()
	}

	hops := forwardedHops(r.Header.Values("X-Forwarded-For"))
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := parseAddr(hops[i])
		if err != nil {
			// 壊れた値より左は信用できない
			return remote.String()
		}
		if !c.isTrusted(addr) {
			return addr.String()
		}
	}
	if len(hops) == 0 {
		if addr, err := parseAddr(r.Header.Get("X-Real-IP")); err == nil {
			return addr.String()
		}
	}
	return remote.String()
}

// Middleware は解決したクライアントIPをコンテキストに載せる。ClientIP はこれを参照する。
func (c *ClientIPResolver) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPContextKey, c.Resolve(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP はリクエスト元のIPアドレスを返す。
// ClientIPResolver のミドルウェアを通っていなければ接続元アドレスを使う。
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPContextKey).(string); ok && ip != "" {
		return ip
	}
	return (*ClientIPResolver)(nil).Resolve(r)
}

func remoteAddr(r *http.Request) (netip.Addr, bool) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	addr, err := parseAddr(host)
	return addr, err == nil
}

func parseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap().WithZone(""), nil
}

func forwardedHops(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	return hops
}
