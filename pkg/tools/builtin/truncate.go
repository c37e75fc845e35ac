package builtin

import "fmt"

const (
	DefaultMaxLines   = 2000
	DefaultMaxBytes   = 50 * 1024 // 50 KB
	GrepMaxLineLength = 500
	contextLines      = 4 // lines of context shown around edits and grep matches
)

// TruncationResult describes what a truncation pass did.
type TruncationResult struct {
	Content               string
	Truncated             bool
	TruncatedBy           string // "lines" | "bytes" | ""
	TotalLines            int
	TotalBytes            int
	OutputLines           int
	OutputBytes           int
	LastLinePartial       bool
	FirstLineExceedsLimit bool
	MaxLines              int
	MaxBytes              int
}

// FormatSize formats a byte count as a human-readable string.
func FormatSize(bytes int) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%dB", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(bytes)/(1024*1024))
	}
}

// TruncateHead keeps the beginning of content up to maxLines or maxBytes,
// never returning a partial line. When the very first line alone exceeds the
// byte limit the result is empty with FirstLineExceedsLimit set.
func TruncateHead(content string, maxLines, maxBytes int) TruncationResult {
	lines := splitLines(content)
	totalLines := len(lines)
	totalBytes := len(content)

	if totalLines <= maxLines && totalBytes <= maxBytes {
		return TruncationResult{
			Content:     content,
			TotalLines:  totalLines,
			TotalBytes:  totalBytes,
			OutputLines: totalLines,
			OutputBytes: totalBytes,
			MaxLines:    maxLines,
			MaxBytes:    maxBytes,
		}
	}

	if len(lines) > 0 && len(lines[0]) > maxBytes {
		return TruncationResult{
			Truncated:             true,
			TruncatedBy:           "bytes",
			TotalLines:            totalLines,
			TotalBytes:            totalBytes,
			FirstLineExceedsLimit: true,
			MaxLines:              maxLines,
			MaxBytes:              maxBytes,
		}
	}

	out := make([]string, 0, min(maxLines, totalLines))
	outBytes := 0
	truncatedBy := "lines"

	for i, line := range lines {
		if i >= maxLines {
			break
		}
		sep := 0
		if i > 0 {
			sep = 1 // newline separator
		}
		if outBytes+len(line)+sep > maxBytes {
			truncatedBy = "bytes"
			break
		}
		out = append(out, line)
		outBytes += len(line) + sep
	}
	if len(out) >= maxLines && outBytes <= maxBytes {
		truncatedBy = "lines"
	}

	joined := joinLines(out)
	return TruncationResult{
		Content:     joined,
		Truncated:   true,
		TruncatedBy: truncatedBy,
		TotalLines:  totalLines,
		TotalBytes:  totalBytes,
		OutputLines: len(out),
		OutputBytes: len(joined),
		MaxLines:    maxLines,
		MaxBytes:    maxBytes,
	}
}

// TruncateTail keeps the end of content up to maxLines or maxBytes. When the
// final line alone exceeds maxBytes a partial last line is returned with
// LastLinePartial set.
func TruncateTail(content string, maxLines, maxBytes int) TruncationResult {
	lines := splitLines(content)
	totalLines := len(lines)
	totalBytes := len(content)

	if totalLines <= maxLines && totalBytes <= maxBytes {
		return TruncationResult{
			Content:     content,
			TotalLines:  totalLines,
			TotalBytes:  totalBytes,
			OutputLines: totalLines,
			OutputBytes: totalBytes,
			MaxLines:    maxLines,
			MaxBytes:    maxBytes,
		}
	}

	out := make([]string, 0, min(maxLines, totalLines))
	outBytes := 0
	truncatedBy := "lines"
	lastLinePartial := false

	for i := len(lines) - 1; i >= 0 && len(out) < maxLines; i-- {
		line := lines[i]
		sep := 0
		if len(out) > 0 {
			sep = 1
		}
		if outBytes+len(line)+sep > maxBytes {
			truncatedBy = "bytes"
			if len(out) == 0 {
				// Not a single whole line fits; keep the tail of this one.
				partial := tailBytes(line, maxBytes)
				out = append(out, partial)
				outBytes = len(partial)
				lastLinePartial = true
			}
			break
		}
		out = append([]string{line}, out...)
		outBytes += len(line) + sep
	}
	if len(out) >= maxLines && outBytes <= maxBytes {
		truncatedBy = "lines"
	}

	joined := joinLines(out)
	return TruncationResult{
		Content:         joined,
		Truncated:       true,
		TruncatedBy:     truncatedBy,
		TotalLines:      totalLines,
		TotalBytes:      totalBytes,
		OutputLines:     len(out),
		OutputBytes:     len(joined),
		LastLinePartial: lastLinePartial,
		MaxLines:        maxLines,
		MaxBytes:        maxBytes,
	}
}

// TruncateLine truncates a single line to maxChars, appending a marker.
func TruncateLine(line string, maxChars int) (text string, wasTruncated bool) {
	runes := []rune(line)
	if len(runes) <= maxChars {
		return line, false
	}
	return string(runes[:maxChars]) + "... [truncated]", true
}

// splitLines splits on \n, keeping an empty final element when the content
// ends with a newline.
func splitLines(s string) []string {
	if s == "" {
		return []string{""}
	}
	out := make([]string, 0, 64)
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	total := len(lines) - 1
	for _, l := range lines {
		total += len(l)
	}
	buf := make([]byte, 0, total)
	for i, l := range lines {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, l...)
	}
	return string(buf)
}

// tailBytes returns the last maxBytes bytes of s, starting at a valid UTF-8
// rune boundary.
func tailBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	start := len(s) - maxBytes
	for start < len(s) && (s[start]&0xc0) == 0x80 {
		start++
	}
	return s[start:]
}

const maxInt = int(^uint(0) >> 1)
