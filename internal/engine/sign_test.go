package engine

import (
	"net/url"
	"strings"
	"testing"
)

func TestSignCanonicalization(t *testing.T) {
	t.Parallel()

	secret := "abc123"
	params := map[string]string{
		"pid":          "1001",
		"out_trade_no": "ORD-1",
		"money":        "10.00",
		"empty":        "",      // dropped: empty values never contribute
		"sign":         "bogus", // dropped: the signature field itself
		"sign_type":    "MD5",   // dropped
	}
	got := Sign(params, secret)

	// Same parameters, different map construction order, no dropped keys.
	same := Sign(map[string]string{
		"money":        "10.00",
		"pid":          "1001",
		"out_trade_no": "ORD-1",
	}, secret)
	if got != same {
		t.Fatalf("signature depends on construction order: %s vs %s", got, same)
	}

	if Sign(params, "othersecret") == got {
		t.Fatalf("signature must depend on the secret")
	}
	if len(got) != 32 || strings.ToLower(got) != got {
		t.Fatalf("expected lowercase 32-char hex digest, got %q", got)
	}
}

func TestVerifySign(t *testing.T) {
	t.Parallel()

	secret := "abc123"
	params := map[string]string{
		"pid":          "1001",
		"out_trade_no": "ORD-1",
		"money":        "10.00",
	}
	sig := Sign(params, secret)

	build := func(sign string) url.Values {
		v := url.Values{}
		for k, val := range params {
			v.Set(k, val)
		}
		if sign != "" {
			v.Set("sign", sign)
		}
		return v
	}

	if !VerifySign(build(sig), secret) {
		t.Fatalf("valid signature rejected")
	}
	// Case-insensitive comparison: gateways differ in hex casing.
	if !VerifySign(build(strings.ToUpper(sig)), secret) {
		t.Fatalf("uppercase signature rejected")
	}
	if VerifySign(build(""), secret) {
		t.Fatalf("missing signature accepted")
	}
	if VerifySign(build("deadbeef"), secret) {
		t.Fatalf("wrong signature accepted")
	}

	tampered := build(sig)
	tampered.Set("money", "0.01")
	if VerifySign(tampered, secret) {
		t.Fatalf("tampered parameters accepted")
	}
}

func TestParseAmountCents(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"10.00", 1000, false},
		{"10", 1000, false},
		{"0.01", 1, false},
		{"10.5", 1050, false},
		{"10.999", 1099, false}, // extra precision truncated
		{" 3.50 ", 350, false},
		{"", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseAmountCents(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseAmountCents(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAmountCents(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAmountCents(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormatAmountCents(t *testing.T) {
	t.Parallel()

	if got := FormatAmountCents(1000); got != "10.00" {
		t.Fatalf("expected 10.00, got %s", got)
	}
	if got := FormatAmountCents(1); got != "0.01" {
		t.Fatalf("expected 0.01, got %s", got)
	}
	if got := FormatAmountCents(1050); got != "10.50" {
		t.Fatalf("expected 10.50, got %s", got)
	}
}
