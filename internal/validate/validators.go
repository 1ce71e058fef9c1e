package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"deskline/internal/domain"
)

var (
	curpRe  = regexp.MustCompile(`^[A-Z]{4}\d{6}[HM][A-Z]{5}[A-Z0-9]\d$`)
	rfcRe   = regexp.MustCompile(`^[A-ZÑ&]{3,4}\d{6}[A-Z0-9]{3}$`)
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^(\+?52)?\d{10}$`)
)

// Builtin returns the registry with every stock validator installed.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("required", Required)
	r.Register("email.format", EmailFormat)
	r.Register("curp.format", CURPFormat)
	r.Register("rfc.format", RFCFormat)
	r.Register("phone.format", PhoneFormat)
	r.Register("length.range", LengthRange)
	return r
}

func stringValue(in Input) string {
	s, _ := in.Value.(string)
	return s
}

func Required(_ context.Context, in Input) domain.Result {
	switch v := in.Value.(type) {
	case nil:
	case string:
		if strings.TrimSpace(v) != "" {
			return domain.Result{Status: domain.StatusSuccess, Summary: "value present"}
		}
	default:
		return domain.Result{Status: domain.StatusSuccess, Summary: "value present"}
	}
	return domain.Result{Status: domain.StatusFail, Summary: "value is required"}
}

func EmailFormat(_ context.Context, in Input) domain.Result {
	v := strings.TrimSpace(stringValue(in))
	if !emailRe.MatchString(v) {
		return domain.Result{
			Status:   domain.StatusFail,
			Summary:  "value does not look like an email address",
			Evidence: v,
		}
	}
	return domain.Result{Status: domain.StatusSuccess, Summary: "email format ok"}
}

// CURPFormat checks the 18-character CURP shape (4 letters, birth date,
// sex, 5 letters, homonymy char, check digit). Format only; no registry
// lookup.
func CURPFormat(_ context.Context, in Input) domain.Result {
	v := strings.ToUpper(strings.TrimSpace(stringValue(in)))
	if !curpRe.MatchString(v) {
		return domain.Result{
			Status:   domain.StatusFail,
			Summary:  "value does not match the CURP format",
			Evidence: v,
		}
	}
	return domain.Result{Status: domain.StatusSuccess, Summary: "CURP format ok"}
}

// RFCFormat checks the RFC tax id shape for both personas físicas (13
// chars) and morales (12 chars).
func RFCFormat(_ context.Context, in Input) domain.Result {
	v := strings.ToUpper(strings.TrimSpace(stringValue(in)))
	if !rfcRe.MatchString(v) {
		return domain.Result{
			Status:   domain.StatusFail,
			Summary:  "value does not match the RFC format",
			Evidence: v,
		}
	}
	return domain.Result{Status: domain.StatusSuccess, Summary: "RFC format ok"}
}

func PhoneFormat(_ context.Context, in Input) domain.Result {
	v := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, strings.TrimSpace(stringValue(in)))
	if !phoneRe.MatchString(v) {
		return domain.Result{
			Status:   domain.StatusFail,
			Summary:  "value does not look like a phone number",
			Evidence: v,
		}
	}
	return domain.Result{Status: domain.StatusSuccess, Summary: "phone format ok"}
}

// LengthRange enforces params.min/params.max on the value length.
func LengthRange(_ context.Context, in Input) domain.Result {
	v := stringValue(in)
	min, max := intParam(in.Params, "min", 0), intParam(in.Params, "max", 0)
	n := len([]rune(v))
	if min > 0 && n < min {
		return domain.Result{
			Status:  domain.StatusFail,
			Summary: fmt.Sprintf("value shorter than %d characters", min),
		}
	}
	if max > 0 && n > max {
		return domain.Result{
			Status:  domain.StatusFail,
			Summary: fmt.Sprintf("value longer than %d characters", max),
		}
	}
	return domain.Result{Status: domain.StatusSuccess, Summary: "length ok"}
}

func intParam(params map[string]any, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
