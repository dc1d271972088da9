package replay

import "regexp"

var (
	svgRe        = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	blankLinesRe = regexp.MustCompile(`\n\s*\n`)
)

// Scrub strips inline SVG blocks and collapses the blank lines they leave.
func Scrub(content string) string {
	content = svgRe.ReplaceAllString(content, "")
	return blankLinesRe.ReplaceAllString(content, "\n")
}
