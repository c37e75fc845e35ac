// Package ai — provider error classification.
//
// Errors from providers fall into three classes:
//
//  1. Overflow — the prompt exceeded the model's context window. Permanent at
//     the provider level, but recoverable locally through compaction.
//  2. Permanent — auth, invalid content, permission. Never retried.
//  3. Transient — rate limits, 5xx, connection failures, overload. Retried
//     with exponential backoff.
//
// Matching is case-insensitive substring/pattern matching against the error
// text. Permanent classes (overflow included) take precedence over transient
// ones: "500: context_length_exceeded" is an overflow, not a retryable 500.
//
// The pattern tables are fixed defaults but extensible: build a Classifier
// with extra patterns when a deployment meets a provider phrasing not listed
// here.
package ai

import "regexp"

// ErrorClass is the retry decision for a provider error.
type ErrorClass int

const (
	ErrorTransient ErrorClass = iota
	ErrorPermanent
	ErrorOverflow
)

// overflowPatterns matches error messages returned by known providers when
// the input exceeds the model's context window.
var overflowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)context[_ ]length[_ ]exceeded`),
	regexp.MustCompile(`(?i)maximum context length`),
	regexp.MustCompile(`(?i)too many tokens`),
	regexp.MustCompile(`(?i)prompt is too long`),             // Anthropic
	regexp.MustCompile(`(?i)input is too long`),              // Amazon Bedrock
	regexp.MustCompile(`(?i)content[_ ]too[_ ]large`),
	regexp.MustCompile(`(?i)string[_ ]above[_ ]max[_ ]length`),
	regexp.MustCompile(`(?i)context window`),
	regexp.MustCompile(`(?i)max[_ ]tokens`),
	regexp.MustCompile(`(?i)exceed.*context`),
	regexp.MustCompile(`(?i)token limit exceeded`),
}

// permanentPatterns matches errors that retrying cannot fix.
var permanentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)invalid[_ ]api[_ ]key`),
	regexp.MustCompile(`(?i)unauthorized`),
	regexp.MustCompile(`(?i)authentication`),
	regexp.MustCompile(`(?i)permission`),
	regexp.MustCompile(`(?i)forbidden`),
	regexp.MustCompile(`(?i)invalid[_ ]request`),
	regexp.MustCompile(`(?i)unsupported`),
	regexp.MustCompile(`(?i)not[_ ]found.*model`),
}

// transientPatterns matches errors worth retrying with backoff.
var transientPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rate[_ ]limit`),
	regexp.MustCompile(`(?i)too many requests`),
	regexp.MustCompile(`(?i)\b429\b`),
	regexp.MustCompile(`(?i)\b5\d\d\b`),
	regexp.MustCompile(`(?i)overloaded`),
	regexp.MustCompile(`(?i)timeout`),
	regexp.MustCompile(`(?i)timed out`),
	regexp.MustCompile(`(?i)connection`),
	regexp.MustCompile(`(?i)temporarily unavailable`),
	regexp.MustCompile(`(?i)server error`),
	regexp.MustCompile(`(?i)EOF$`),
}

// Classifier decides how a provider error should be handled. The zero value
// is unusable; use NewClassifier.
type Classifier struct {
	overflow  []*regexp.Regexp
	permanent []*regexp.Regexp
	transient []*regexp.Regexp
}

// NewClassifier returns a Classifier with the default pattern tables plus
// any extra patterns (each list may be nil).
func NewClassifier(extraOverflow, extraPermanent, extraTransient []*regexp.Regexp) *Classifier {
	return &Classifier{
		overflow:  append(append([]*regexp.Regexp{}, overflowPatterns...), extraOverflow...),
		permanent: append(append([]*regexp.Regexp{}, permanentPatterns...), extraPermanent...),
		transient: append(append([]*regexp.Regexp{}, transientPatterns...), extraTransient...),
	}
}

// DefaultClassifier uses only the built-in pattern tables.
func DefaultClassifier() *Classifier { return NewClassifier(nil, nil, nil) }

// Classify returns the error class for the given provider error text.
// Precedence: overflow, then permanent, then transient. Text matching no
// table defaults to transient — unknown failures are worth one backoff cycle.
func (c *Classifier) Classify(errText string) ErrorClass {
	if errText == "" {
		return ErrorPermanent
	}
	if matchAny(c.overflow, errText) {
		return ErrorOverflow
	}
	if matchAny(c.permanent, errText) {
		return ErrorPermanent
	}
	if matchAny(c.transient, errText) {
		return ErrorTransient
	}
	return ErrorTransient
}

// IsContextOverflow reports whether the error text indicates a context
// window overflow. Empty text is never an overflow.
func (c *Classifier) IsContextOverflow(errText string) bool {
	return errText != "" && matchAny(c.overflow, errText)
}

// Retryable reports whether the error text should be retried with backoff.
// Permanent and overflow matches win over transient ones.
func (c *Classifier) Retryable(errText string) bool {
	return c.Classify(errText) == ErrorTransient
}

// UsageOverflow reports a silent overflow: a usage report whose prompt token
// count exceeds the context window. Equal-to-window is not an overflow.
func UsageOverflow(promptTokens, contextWindow int) bool {
	return contextWindow > 0 && promptTokens > contextWindow
}

func matchAny(pats []*regexp.Regexp, s string) bool {
	for _, re := range pats {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
