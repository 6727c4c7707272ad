package delivery

import (
	"context"
	"crypto/x509"
	"errors"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"
)

// Backoff returns the delay in whole seconds that precedes attempt k (1-indexed).
// raw = min(max, base*2^(k-1)); with jitter the delay is drawn uniformly from
// [max(1, raw/2), raw]. The result is never below 1. intN defaults to rand.IntN.
func Backoff(base, k, max int, jitter bool, intN func(n int) int) int {
	if base < 1 {
		base = 1
	}
	if max < base {
		max = base
	}
	if k < 1 {
		k = 1
	}

	raw := base
	for i := 1; i < k && raw < max; i++ {
		if raw > max/2 {
			raw = max
			break
		}
		raw *= 2
	}
	if raw > max {
		raw = max
	}

	delay := raw
	if jitter {
		lo := raw / 2
		if lo < 1 {
			lo = 1
		}
		if intN == nil {
			intN = rand.IntN
		}
		delay = lo + intN(raw-lo+1)
	}
	if delay < 1 {
		delay = 1
	}
	return delay
}

// BackoffDuration is Backoff as a time.Duration.
func BackoffDuration(base, k, max int, jitter bool, intN func(n int) int) time.Duration {
	return time.Duration(Backoff(base, k, max, jitter, intN)) * time.Second
}

// IsRetryableStatus reports whether a non-2xx status warrants another attempt.
func IsRetryableStatus(code int) bool {
	if code >= 500 && code <= 599 {
		return true
	}
	switch code {
	case 408, 423, 425, 429:
		return true
	}
	return false
}

// ClassifyReason maps the outcome of an attempt to a metric label.
func ClassifyReason(doErr error, status int) string {
	if doErr != nil {
		var dnsErr *net.DNSError
		var unknownAuth x509.UnknownAuthorityError
		var hostErr x509.HostnameError
		var netErr net.Error
		switch {
		case errors.Is(doErr, context.DeadlineExceeded),
			errors.As(doErr, &netErr) && netErr.Timeout():
			return "timeout"
		case errors.Is(doErr, syscall.ECONNREFUSED):
			return "connection_refused"
		case errors.As(doErr, &dnsErr):
			return "dns_error"
		case errors.As(doErr, &unknownAuth), errors.As(doErr, &hostErr):
			return "tls"
		}
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == 429 {
		return "http_429"
	}
	if status == 408 {
		return "timeout"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}
