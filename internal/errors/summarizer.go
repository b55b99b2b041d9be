// Package errors condenses raw agent and container output into short,
// human-readable failure summaries for task results.
package errors

import (
	"regexp"
	"strconv"
	"strings"
)

// Pattern pairs a regex with its human-readable summary template.
type Pattern struct {
	Regex   *regexp.Regexp
	Summary string
}

// Summarizer extracts failure summaries from agent run output.
type Summarizer struct {
	patterns []Pattern
}

// NewSummarizer creates a summarizer for agent and infrastructure output.
func NewSummarizer() *Summarizer {
	return &Summarizer{patterns: runPatterns}
}

// Summarize extracts failure summaries from output, deduplicated in order
// of first appearance. Falls back to the tail of the output when nothing
// matches, since agents tend to die with their reason in the last lines.
func (s *Summarizer) Summarize(output string) []string {
	var summaries []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(output, "\n") {
		for _, p := range s.patterns {
			matches := p.Regex.FindStringSubmatch(line)
			if matches == nil {
				continue
			}
			summary := p.Summary
			for i, match := range matches[1:] {
				placeholder := "$" + strconv.Itoa(i+1)
				summary = strings.ReplaceAll(summary, placeholder, match)
			}
			if !seen[summary] {
				seen[summary] = true
				summaries = append(summaries, summary)
			}
		}
	}

	if len(summaries) == 0 {
		return tailSummary(output)
	}
	return summaries
}

// tailSummary returns the last few non-empty lines of output.
func tailSummary(output string) []string {
	lines := strings.Split(strings.TrimSpace(output), "\n")

	var result []string
	for i := len(lines) - 1; i >= 0 && len(result) < 3; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			result = append([]string{line}, result...)
		}
	}
	return result
}

// Failure patterns for agent runs: provider-side errors, container and
// image problems, and agent process failures.
var runPatterns = []Pattern{
	{regexp.MustCompile(`context deadline exceeded`), "Run timed out"},
	{regexp.MustCompile(`(?i)rate[ _-]?limit`), "Provider rate limit hit"},
	{regexp.MustCompile(`overloaded_error`), "Provider overloaded"},
	{regexp.MustCompile(`(?i)authentication[ _]?error|invalid x-api-key`), "Provider authentication failed"},
	{regexp.MustCompile(`(?i)billing|insufficient[ _]credits`), "Provider billing or quota issue"},
	{regexp.MustCompile(`Error response from daemon: (.+)`), "Docker daemon error: $1"},
	{regexp.MustCompile(`No such image: (.+)`), "Image not available: $1"},
	{regexp.MustCompile(`executable file not found in \$?PATH`), "Agent binary not found in container"},
	{regexp.MustCompile(`OOMKilled|(?i)out of memory`), "Container ran out of memory"},
	{regexp.MustCompile(`(?i)permission denied`), "Permission denied"},
	{regexp.MustCompile(`(?i)mcp server .*(failed|crashed|exited)`), "MCP server failed to start"},
	{regexp.MustCompile(`patch does not apply|Hunk #\d+ FAILED`), "Patch failed to apply"},
	{regexp.MustCompile(`panic: (.+)`), "Agent panicked: $1"},
	{regexp.MustCompile(`fatal: (.+)`), "Git failure: $1"},
	{regexp.MustCompile(`(?i)connection (refused|reset)`), "Connection failure to execution backend"},
}
