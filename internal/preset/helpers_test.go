package preset

import (
	"reflect"
	"testing"

	"github.com/bizlens/bizlens/internal/canvas"
)

func TestIsFilled(t *testing.T) {
	cases := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, false},
		{"empty string", "", false},
		{"placeholder", EmptyPlaceholder, false},
		{"real text", "智能手表", true},
		{"non-string value", 4.5, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsFilled(tc.v); got != tc.want {
				t.Errorf("IsFilled(%v) = %v, want %v", tc.v, got, tc.want)
			}
		})
	}
}

func TestFilledCountIgnoresPlaceholders(t *testing.T) {
	rec := canvas.Record{
		"product": "法律检索 SaaS",
		"target":  EmptyPlaceholder,
		"price":   "",
		"niche":   "诉讼律师",
	}
	if got := FilledCount(rec); got != 2 {
		t.Errorf("Expected 2 filled fields, got %d", got)
	}
}

func TestComplete(t *testing.T) {
	incomplete := canvas.Record{"summary": "方向可行"}
	if Complete(incomplete) {
		t.Error("Expected incomplete without an action list")
	}

	done := canvas.Record{
		"summary":    "方向可行",
		"actionList": []any{"访谈 10 位律师"},
	}
	if !Complete(done) {
		t.Error("Expected complete with summary and action list")
	}
}

func TestInputPlaceholderFollowsProgress(t *testing.T) {
	if got := InputPlaceholder(nil); got != placeholderByStep[0] {
		t.Errorf("Expected first hint for nil canvas, got %q", got)
	}

	full := canvas.Record{
		"product": "a", "target": "b", "price": "c", "niche": "d", "diff": "e",
	}
	if got := InputPlaceholder(full); got != placeholderByStep[3] {
		t.Errorf("Expected final hint for a full canvas, got %q", got)
	}
}

func TestSuggestedRepliesFiltersPlaceholderLikeEntries(t *testing.T) {
	rec := canvas.Record{
		"suggestedReplies": []any{
			"先做诉讼律师细分市场",
			"好的",
			"产品/服务: 等待输入...",
			"主打隐私设计",
			"按年订阅收费",
			"第五条不该出现",
		},
	}

	got := SuggestedReplies(rec)

	want := []string{"先做诉讼律师细分市场", "主打隐私设计", "按年订阅收费"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestFallbackSuggestedRepliesKeyedOnMissingField(t *testing.T) {
	rec := canvas.Record{"product": "法律检索 SaaS", "target": "律师"}
	replies := FallbackSuggestedReplies(rec)
	if len(replies) == 0 {
		t.Fatal("Expected fallback replies when niche is missing")
	}

	if got := FallbackSuggestedReplies(canvas.Record{}); got != nil {
		t.Errorf("Expected no fallbacks before product and target, got %v", got)
	}
}
