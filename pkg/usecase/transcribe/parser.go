package transcribe

import (
	"regexp"
	"strings"
)

// dedupeWindow is how many recent lines are checked when collapsing the
// overlapping cues that auto-generated subtitles produce.
const dedupeWindow = 6

var (
	cueTimingRe  = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}\.\d{3}\s-->\s`)
	inlineTimeRe = regexp.MustCompile(`<\d{2}:\d{2}:\d{2}\.\d{3}>`)
	classTagRe   = regexp.MustCompile(`</?c(\.[^>]*)?>`)
	anyTagRe     = regexp.MustCompile(`</?[^>]+>`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

var headerPrefixes = []string{"WEBVTT", "NOTE", "STYLE", "REGION", "Kind:", "Language:"}

// Parser converts raw WebVTT caption text into deduplicated plain text.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// VTTToLines strips WebVTT headers, cue timings and markup, returning the
// bare caption lines in order.
func (x *Parser) VTTToLines(vtt string) []string {
	var out []string
	for _, raw := range strings.Split(vtt, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if hasHeaderPrefix(line) {
			continue
		}
		if cueTimingRe.MatchString(line) {
			continue
		}

		line = inlineTimeRe.ReplaceAllString(line, "")
		line = classTagRe.ReplaceAllString(line, "")
		line = anyTagRe.ReplaceAllString(line, "")
		line = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))

		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func hasHeaderPrefix(line string) bool {
	for _, prefix := range headerPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// DedupeLines drops immediate repeats and lines already seen within the
// trailing window. Auto captions re-emit each line as cues scroll.
func (x *Parser) DedupeLines(lines []string, window int) []string {
	var deduped []string
	var recent []string
	prev := ""

	for _, line := range lines {
		if line == prev {
			continue
		}
		if contains(recent, line) {
			continue
		}
		deduped = append(deduped, line)
		recent = append(recent, line)
		if len(recent) > window {
			recent = recent[len(recent)-window:]
		}
		prev = line
	}
	return deduped
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// VTTToText converts a WebVTT document to newline-joined deduplicated text.
func (x *Parser) VTTToText(vtt string) string {
	lines := x.DedupeLines(x.VTTToLines(vtt), dedupeWindow)
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
