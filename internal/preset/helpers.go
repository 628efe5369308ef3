package preset

import (
	"regexp"
	"strings"

	"github.com/bizlens/bizlens/internal/canvas"
)

// EmptyPlaceholder marks a diagnosis field the user has not filled yet.
const EmptyPlaceholder = "等待输入..."

var placeholderLikeRe = regexp.MustCompile(`^[\x{4e00}-\x{9fa5}/]+\s*[:：]\s*等待输入`)

// IsFilled reports whether a canvas value carries real user content.
func IsFilled(v any) bool {
	s, ok := v.(string)
	if !ok {
		return v != nil
	}
	return s != "" && s != EmptyPlaceholder
}

// FilledCount counts the filled diagnosis fields of a gxx canvas.
func FilledCount(rec canvas.Record) int {
	n := 0
	for _, f := range []string{"product", "target", "price", "niche", "diff"} {
		if IsFilled(rec[f]) {
			n++
		}
	}
	return n
}

// Complete reports whether a diagnosis canvas has reached the consultation
// goal: a summary plus a non-empty action list.
func Complete(rec canvas.Record) bool {
	if !IsFilled(rec["summary"]) {
		return false
	}
	list := canvas.CoerceActionList(rec["actionList"])
	return len(list) > 0
}

var placeholderByStep = []string{
	"描述一下产品形态、准备卖给谁…",
	"你的目标客户是谁？可简短说…",
	"破局点或核心差异化是什么？",
	"补充或修改任意一项，或直接问顾问…",
}

// InputPlaceholder picks the chat input hint matching the canvas progress.
func InputPlaceholder(rec canvas.Record) string {
	if rec == nil {
		return placeholderByStep[0]
	}
	step := FilledCount(rec)
	if step > 3 {
		step = 3
	}
	return placeholderByStep[step]
}

// IsValidSuggestedReply filters out placeholder-like or trivially short
// quick-reply candidates coming from the model.
func IsValidSuggestedReply(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len([]rune(trimmed)) <= 3 {
		return false
	}
	if strings.Contains(trimmed, EmptyPlaceholder[:len(EmptyPlaceholder)-len("...")]) {
		return false
	}
	return !placeholderLikeRe.MatchString(trimmed)
}

// SuggestedReplies returns up to three usable quick replies from the canvas.
func SuggestedReplies(rec canvas.Record) []string {
	raw, _ := rec["suggestedReplies"].([]string)
	if raw == nil {
		if anyList, ok := rec["suggestedReplies"].([]any); ok {
			for _, v := range anyList {
				if s, sOK := v.(string); sOK {
					raw = append(raw, s)
				}
			}
		}
	}
	out := make([]string, 0, 3)
	for _, s := range raw {
		if IsValidSuggestedReply(s) {
			out = append(out, s)
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

// FallbackSuggestedReplies offers canned quick replies for whichever
// diagnosis field is still missing, in the guided order.
func FallbackSuggestedReplies(rec canvas.Record) []string {
	if rec == nil {
		return nil
	}
	hasProduct := IsFilled(rec["product"])
	hasTarget := IsFilled(rec["target"])
	hasPrice := IsFilled(rec["price"])
	hasNiche := IsFilled(rec["niche"])
	hasDiff := IsFilled(rec["diff"])

	switch {
	case hasProduct && hasTarget && hasPrice && hasNiche && hasDiff:
		return nil
	case !hasProduct || !hasTarget:
		return nil
	case !hasNiche:
		return []string{"先切入律师中的诉讼律师，他们查阅法条最频繁", "先做一线城市律所合伙人，再扩展"}
	case !hasDiff:
		return []string{"主打无摄像头隐私设计，客户在敏感场合也能用", "差异化是即时调取法条，比翻书快 10 倍"}
	case !hasPrice:
		return []string{"客单价约 5 万/年，订阅制", "按年付费，单客 3–8 万不等"}
	default:
		return nil
	}
}
