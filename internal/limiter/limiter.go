// Package limiter implements per-client, per-endpoint request quotas using a sliding-window counter.
package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strings"
	"time"
)

// Quota is the number of requests allowed per window.
type Quota struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter performs check-and-increment for a key under a quota.
type Limiter interface {
	Allow(ctx context.Context, key string, q Quota) (Decision, error)
}

// Endpoint names used as quota keys.
const (
	EndpointDefault     = "default"
	EndpointLogin       = "auth.login"
	EndpointRegister    = "auth.register"
	EndpointRefresh     = "auth.refresh"
	EndpointOrderCreate = "orders.create"
	EndpointPaymentInit = "payments.initialize"
	EndpointWebhook     = "payments.webhook"
	EndpointUpload      = "uploads"
)

// Quotas maps endpoint names to quotas.
type Quotas map[string]Quota

// DefaultQuotas returns the built-in quota table.
func DefaultQuotas() Quotas {
	return Quotas{
		EndpointDefault:     {Limit: 120, Window: time.Minute},
		EndpointLogin:       {Limit: 10, Window: 15 * time.Minute},
		EndpointRegister:    {Limit: 5, Window: time.Hour},
		EndpointRefresh:     {Limit: 30, Window: 15 * time.Minute},
		EndpointOrderCreate: {Limit: 10, Window: time.Minute},
		EndpointPaymentInit: {Limit: 10, Window: time.Minute},
		EndpointWebhook:     {Limit: 300, Window: time.Minute},
		EndpointUpload:      {Limit: 20, Window: time.Minute},
	}
}

// For returns the quota of an endpoint, falling back to the default entry.
func (qs Quotas) For(endpoint string) Quota {
	if q, ok := qs[endpoint]; ok && q.Limit > 0 && q.Window > 0 {
		return q
	}
	if q, ok := qs[EndpointDefault]; ok && q.Limit > 0 && q.Window > 0 {
		return q
	}
	return Quota{Limit: 120, Window: time.Minute}
}

// Merge returns a copy of qs overridden by the valid entries of over.
func (qs Quotas) Merge(over Quotas) Quotas {
	out := make(Quotas, len(qs)+len(over))
	for k, v := range qs {
		out[k] = v
	}
	for k, v := range over {
		if v.Limit > 0 && v.Window > 0 {
			out[k] = v
		}
	}
	return out
}

// Key builds the bucket key for a client on an endpoint.
func Key(clientID, endpoint string) string { return endpoint + "|" + clientID }

// windowStart aligns t to the fixed window containing it.
func windowStart(t time.Time, w time.Duration) time.Time { return t.Truncate(w) }

// evaluate applies the sliding-window estimate: hits of the current window plus the previous
// window weighted by how much of it still overlaps the trailing window. cur includes this request.
func evaluate(now time.Time, q Quota, start time.Time, prev, cur int) Decision {
	elapsed := now.Sub(start)
	weight := 1 - float64(elapsed)/float64(q.Window)
	est := float64(prev)*weight + float64(cur)
	if est <= float64(q.Limit) {
		return Decision{Allowed: true, Remaining: max(0, q.Limit-int(math.Ceil(est)))}
	}

	var retry time.Duration
	if cur >= q.Limit || prev == 0 {
		retry = start.Add(q.Window).Sub(now)
	} else {
		// the previous window must decay until prev*weight + cur <= limit
		frac := 1 - float64(q.Limit-cur)/float64(prev)
		retry = time.Duration(frac*float64(q.Window)) - elapsed
	}
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retry}
}

// ClientID resolves the client identifier of a request: CF-Connecting-IP, X-Real-IP,
// the first X-Forwarded-For entry, then the connection address. Without any IP it falls back
// to a hash of the user agent, which is coarse.
func ClientID(h http.Header, remoteAddr string) string {
	for _, v := range []string{
		h.Get("CF-Connecting-IP"),
		h.Get("X-Real-IP"),
		firstForwarded(h.Get("X-Forwarded-For")),
		hostOnly(remoteAddr),
	} {
		if ip := net.ParseIP(strings.TrimSpace(v)); ip != nil {
			return ip.String()
		}
	}
	sum := sha256.Sum256([]byte(h.Get("User-Agent")))
	return "ua:" + hex.EncodeToString(sum[:])[:16]
}

func firstForwarded(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		return v[:i]
	}
	return v
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
