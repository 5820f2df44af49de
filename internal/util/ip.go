package util

import (
	"net"
	"strings"
)

// ClientIP 显式参数优先，否则取 peer。peer 应来自 fiber 的 c.IP()，
// 只有可信代理转发的请求才会带上代理头里的地址，多跳时取第一跳
func ClientIP(explicit, peer string) string {
	if ip := normalizeIP(explicit); ip != "" {
		return ip
	}
	return normalizeIP(strings.Split(peer, ",")[0])
}

func normalizeIP(raw string) string {
	ip := strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return strings.TrimPrefix(ip, "::ffff:")
}
