// Package moderation flags generated or submitted text that matches a
// configured wordlist.
package moderation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"llmrouter/backend/internal/task"
)

// Filter matches text against a case-insensitive alternation of terms.
// The zero value and a nil *Filter never flag anything.
type Filter struct {
	re *regexp.Regexp
}

// Compile builds a filter from terms. Each term is used as a regular
// expression fragment.
func Compile(terms []string) (*Filter, error) {
	if len(terms) == 0 {
		return &Filter{}, nil
	}
	re, err := regexp.Compile("(?i)" + strings.Join(terms, "|"))
	if err != nil {
		return nil, fmt.Errorf("compile moderation pattern: %w", err)
	}
	return &Filter{re: re}, nil
}

// Load reads one term per line. Blank lines are rejected.
func Load(r io.Reader) (*Filter, error) {
	var terms []string
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		term := strings.TrimSpace(sc.Text())
		if term == "" {
			return nil, fmt.Errorf("empty line %d in moderation list", line)
		}
		terms = append(terms, term)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read moderation list: %w", err)
	}
	return Compile(terms)
}

// LoadFile loads a wordlist file; an empty path yields a filter that never flags.
func LoadFile(path string) (*Filter, error) {
	if path == "" {
		return &Filter{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open moderation list: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (f *Filter) Enabled() bool {
	return f != nil && f.re != nil
}

func (f *Filter) Flagged(text string) bool {
	if !f.Enabled() {
		return false
	}
	return f.re.MatchString(text)
}

// CheckMessages checks the last recent messages of a conversation.
func (f *Filter) CheckMessages(msgs []task.Message, recent int) (int, bool) {
	start := len(msgs) - recent
	if start < 0 {
		start = 0
	}
	for i := start; i < len(msgs); i++ {
		if f.Flagged(msgs[i].Content) {
			return i, true
		}
	}
	return -1, false
}
