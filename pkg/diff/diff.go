// Package diff replays two descriptors and reports the line-level changes
// between their response bodies.
package diff

import (
	"context"
	"strings"

	"github.com/CodeMonkeyCybersecurity/replayer/pkg/types"
	"github.com/pmezard/go-difflib/difflib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/CodeMonkeyCybersecurity/replayer/pkg/diff")

// Runner executes one descriptor. *replay.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, d *types.Descriptor) *types.Result
}

type Result struct {
	Add         string        `json:"add"`
	Remove      string        `json:"remove"`
	NewResponse *types.Result `json:"new_response"`
}

type Comparator struct {
	runner Runner
}

func NewComparator(runner Runner) *Comparator {
	return &Comparator{runner: runner}
}

// Diff runs a then b, each with its own cookie jar, and compares their
// content. A transport failure on either side compares as an empty body.
func (c *Comparator) Diff(ctx context.Context, a, b *types.Descriptor) *Result {
	ctx, span := tracer.Start(ctx, "diff.Compare")
	defer span.End()

	first := c.runner.Run(ctx, a)
	second := c.runner.Run(ctx, b)

	add, remove := Compare(first.Content, second.Content)
	span.SetAttributes(
		attribute.Int("diff.added_bytes", len(add)),
		attribute.Int("diff.removed_bytes", len(remove)),
	)
	return &Result{
		Add:         add,
		Remove:      remove,
		NewResponse: second,
	}
}

// Compare returns the lines only in b prefixed "+ " and the lines only in a
// prefixed "- ", each concatenated with their original terminators.
func Compare(a, b string) (add, remove string) {
	left, right := SplitLines(a), SplitLines(b)
	m := difflib.NewMatcher(left, right)

	var added, removed strings.Builder
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'r':
			writeLines(&removed, "- ", left[op.I1:op.I2])
			writeLines(&added, "+ ", right[op.J1:op.J2])
		case 'd':
			writeLines(&removed, "- ", left[op.I1:op.I2])
		case 'i':
			writeLines(&added, "+ ", right[op.J1:op.J2])
		}
	}
	return added.String(), removed.String()
}

func writeLines(sb *strings.Builder, prefix string, lines []string) {
	for _, l := range lines {
		sb.WriteString(prefix)
		sb.WriteString(l)
	}
}

// SplitLines splits after every \n, \r\n or lone \r. The last line keeps
// whatever terminator it had, possibly none.
func SplitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			lines = append(lines, s[start:i+1])
			start = i + 1
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
