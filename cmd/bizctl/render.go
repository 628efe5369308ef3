package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/preset"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	filledColor  = color.New(color.FgGreen)
	pendingColor = color.New(color.FgHiBlack)
	scoreColor   = color.New(color.FgYellow)
	replyColor   = color.New(color.FgMagenta)
)

// gxx diagnosis fields in display order, with Chinese labels.
var diagnosisFields = []struct {
	key   string
	label string
}{
	{"product", "产品/服务"},
	{"target", "目标客群"},
	{"price", "利润天花板"},
	{"niche", "破局切入点"},
	{"diff", "核心差异化"},
}

var scoreDims = []struct {
	key   string
	label string
}{
	{"high", "高"},
	{"small", "小"},
	{"new", "新"},
}

// bmc blocks in canonical reading order.
var bmcFields = []struct {
	key   string
	label string
}{
	{"segments", "客户细分"},
	{"value", "价值主张"},
	{"channels", "渠道通路"},
	{"relationship", "客户关系"},
	{"revenue", "收入来源"},
	{"resources", "核心资源"},
	{"activities", "关键业务"},
	{"partners", "合作伙伴"},
	{"costs", "成本结构"},
}

// renderCanvas prints the canvas in a compact terminal layout.
func renderCanvas(w io.Writer, p *preset.Preset, rec canvas.Record) {
	headerColor.Fprintf(w, "\n── %s 画布 ──\n", p.Name)

	if p.ID == preset.GaoXiaoxinID {
		renderDiagnosis(w, rec)
		return
	}
	for _, f := range bmcFields {
		labelColor.Fprintf(w, "%-12s", f.label)
		renderValue(w, rec[f.key], fmt.Sprint(p.DefaultCanvas[f.key]))
	}
}

func renderDiagnosis(w io.Writer, rec canvas.Record) {
	for _, f := range diagnosisFields {
		labelColor.Fprintf(w, "%-12s", f.label)
		renderValue(w, rec[f.key], preset.EmptyPlaceholder)
	}

	if scores, ok := rec[canvas.FieldScores].(map[string]any); ok {
		scoreColor.Fprint(w, "评分        ")
		for _, dim := range scoreDims {
			val, _ := scores[dim.key].(float64)
			scoreColor.Fprintf(w, "%s %.1f  ", dim.label, val)
		}
		fmt.Fprintln(w)
	}

	if summary, ok := rec["summary"].(string); ok && summary != "" {
		labelColor.Fprint(w, "诊断总结    ")
		filledColor.Fprintln(w, summary)
	}

	actions := canvas.CoerceActionList(rec[canvas.FieldActionList])
	if len(actions) > 0 {
		checked, _ := rec[canvas.FieldActionChecked].([]bool)
		labelColor.Fprintln(w, "行动清单")
		for i, action := range actions {
			mark := "[ ]"
			if i < len(checked) && checked[i] {
				mark = "[x]"
			}
			fmt.Fprintf(w, "  %s %d. %s\n", mark, i+1, action)
		}
	}

	if replies := preset.SuggestedReplies(rec); len(replies) > 0 {
		replyColor.Fprintln(w, "快捷回复")
		for i, reply := range replies {
			replyColor.Fprintf(w, "  (%d) %s\n", i+1, reply)
		}
	}
}

func renderValue(w io.Writer, v any, placeholder string) {
	s, _ := v.(string)
	if preset.IsFilled(v) && s != "" && s != placeholder {
		filledColor.Fprintln(w, s)
		return
	}
	pendingColor.Fprintln(w, placeholder)
}
