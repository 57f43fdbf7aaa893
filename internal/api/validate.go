package api

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/url"
	"unicode/utf8"
)

const (
	maxURLLength      = 2048
	maxQuestionLength = 1000
)

// Validator checks submission input. The resolver is injectable so tests
// do not depend on DNS.
type Validator struct {
	lookupIP func(ctx context.Context, host string) ([]net.IP, error)
}

func NewValidator() *Validator {
	return &Validator{
		lookupIP: func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
			return addrs, err
		},
	}
}

// ValidateURL enforces an absolute, bounded http(s) URL whose host does
// not resolve to an internal address (SSRF guard).
func (v *Validator) ValidateURL(ctx context.Context, raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	if len(raw) > maxURLLength {
		return fmt.Errorf("url must not exceed %d characters", maxURLLength)
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return errors.New("url must be an absolute HTTP or HTTPS URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("url must use the http or https scheme")
	}

	host := u.Hostname()
	if host == "" {
		return errors.New("url must include a host")
	}

	if ip := net.ParseIP(host); ip != nil {
		if isForbiddenIP(ip) {
			return errors.New("url must not target an internal address")
		}
		return nil
	}

	ips, err := v.lookupIP(ctx, host)
	if err != nil || len(ips) == 0 {
		return errors.New("url host could not be resolved")
	}
	for _, ip := range ips {
		if isForbiddenIP(ip) {
			return errors.New("url must not target an internal address")
		}
	}
	return nil
}

func isForbiddenIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// ValidateQuestion bounds the question length and escapes markup before
// it reaches storage.
func ValidateQuestion(q string) (string, error) {
	if q == "" {
		return "", errors.New("question is required")
	}
	if utf8.RuneCountInString(q) > maxQuestionLength {
		return "", fmt.Errorf("question must not exceed %d characters", maxQuestionLength)
	}
	return html.EscapeString(q), nil
}
