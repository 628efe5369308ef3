package canvas

import (
	"strings"
	"testing"
)

func TestSanitizeText_RemovesCanvasJSONCodeBlock(t *testing.T) {
	text := "诊断如下。\n```json\n{\"scores\": 4, \"summary\": \"潜力巨大\"}\n```\n建议先做 MVP。"

	got := SanitizeText(text)

	if strings.Contains(got, "scores") || strings.Contains(got, "```") {
		t.Errorf("Expected canvas block stripped, got %q", got)
	}
	if !strings.Contains(got, "诊断如下。") || !strings.Contains(got, "建议先做 MVP。") {
		t.Errorf("Expected surrounding text preserved, got %q", got)
	}
}

func TestSanitizeText_KeepsUnrelatedCodeBlocks(t *testing.T) {
	text := "示例代码：\n```\nSELECT * FROM users;\n```\n就这样。"

	got := SanitizeText(text)

	if !strings.Contains(got, "SELECT * FROM users;") {
		t.Errorf("Expected unrelated code block kept, got %q", got)
	}
}

func TestSanitizeText_RemovesUpdateCanvasCall(t *testing.T) {
	text := `好的，我记下了。updateCanvas(product: "智能手表", target="老年人") 接下来我们谈渠道。`

	got := SanitizeText(text)

	if strings.Contains(got, "updateCanvas") {
		t.Errorf("Expected tool-call fragment stripped, got %q", got)
	}
	if !strings.Contains(got, "接下来我们谈渠道。") {
		t.Errorf("Expected reply text preserved, got %q", got)
	}
}

func TestSanitizeText_RemovesNakedJSON(t *testing.T) {
	text := `结论： {"product": "AI 眼镜", "target": "律师"} 继续吧。`

	got := SanitizeText(text)

	if strings.Contains(got, `"product"`) {
		t.Errorf("Expected naked canvas JSON stripped, got %q", got)
	}
}

func TestSanitizeText_BlankPassthrough(t *testing.T) {
	if got := SanitizeText("   "); got != "   " {
		t.Errorf("Expected blank text returned as-is, got %q", got)
	}
}
