package ai

import "testing"

func TestClassify_OverflowBeatsTransient(t *testing.T) {
	c := DefaultClassifier()

	// A 500 status combined with an overflow phrase must classify as overflow,
	// never as a retryable server error.
	if got := c.Classify("500: context_length_exceeded"); got != ErrorOverflow {
		t.Errorf("Classify(500+overflow) = %v, want ErrorOverflow", got)
	}
	if c.Retryable("500: context_length_exceeded") {
		t.Error("overflow error must not be retryable")
	}
}

func TestIsContextOverflow(t *testing.T) {
	c := DefaultClassifier()

	cases := []struct {
		text string
		want bool
	}{
		{"", false},
		{"CONTEXT_LENGTH_EXCEEDED", true},
		{"This model's maximum context length is 128000 tokens", true},
		{"prompt is too long: 210021 tokens > 200000 maximum", true},
		{"Input is too long for requested model", true},
		{"too many tokens", true},
		{"string_above_max_length", true},
		{"rate limit exceeded", false},
		{"invalid api key", false},
	}
	for _, tc := range cases {
		if got := c.IsContextOverflow(tc.text); got != tc.want {
			t.Errorf("IsContextOverflow(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestClassify_Tables(t *testing.T) {
	c := DefaultClassifier()

	cases := []struct {
		text string
		want ErrorClass
	}{
		{"429 Too Many Requests", ErrorTransient},
		{"503 Service Unavailable", ErrorTransient},
		{"connection reset by peer", ErrorTransient},
		{"Overloaded", ErrorTransient},
		{"invalid_api_key", ErrorPermanent},
		{"401 Unauthorized", ErrorPermanent},
		{"something entirely novel", ErrorTransient},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.text); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestUsageOverflow(t *testing.T) {
	if UsageOverflow(200000, 200000) {
		t.Error("usage equal to window is not overflow")
	}
	if !UsageOverflow(200001, 200000) {
		t.Error("usage above window is overflow")
	}
	if UsageOverflow(100, 0) {
		t.Error("unknown window never overflows")
	}
}
