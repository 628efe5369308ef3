package canvas

import (
	"regexp"
	"strings"
)

// The model occasionally leaks its structured canvas payload into the chat
// reply instead of (or in addition to) calling the tool. SanitizeText strips
// those leaks before the text is shown, leaving unrelated code blocks alone.
var (
	codeBlockRe    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	rawJSONRe      = regexp.MustCompile(`(?s)\{.*?(?:"product"|"target"|"scores"|"actionList"|"suggestedReplies"|"niche"|"diff"|"summary").*?\}`)
	updateCallRe   = regexp.MustCompile(`(?s)updateCanvas\s*\(.*?\)`)
	excessBlankRe  = regexp.MustCompile(`\n{3,}`)
	schemaKeywords = []string{`"product"`, `"target"`, `"scores"`, `"actionList"`, `"suggestedReplies"`, `"niche"`, `"diff"`, `"summary"`}
	callFieldNames = []string{"product", "target", "niche", "diff", "price", "summary"}
)

// SanitizeText removes leaked canvas-schema JSON and updateCanvas(...) call
// fragments from assistant text.
func SanitizeText(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	result := codeBlockRe.ReplaceAllStringFunc(text, func(block string) string {
		inner := strings.TrimSuffix(strings.TrimPrefix(block, "```"), "```")
		inner = strings.TrimPrefix(inner, "json")
		trimmed := strings.TrimSpace(inner)
		if trimmed == "" {
			return ""
		}
		for _, kw := range schemaKeywords {
			if strings.Contains(trimmed, kw) {
				return ""
			}
		}
		if strings.Contains(trimmed, "updateCanvas") {
			for _, f := range callFieldNames {
				if strings.Contains(trimmed, f+"=") || strings.Contains(trimmed, f+":") {
					return ""
				}
			}
		}
		return block
	})

	result = rawJSONRe.ReplaceAllString(result, "")
	result = updateCallRe.ReplaceAllString(result, "")
	result = excessBlankRe.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}
