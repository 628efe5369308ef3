package preset

// JSON Schemas for the updateCanvas tool parameters. Every field is
// optional: partial updates are the normal case. Score bounds live here;
// the reducer does not clamp.

var gxxToolSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"product": map[string]any{"type": "string", "description": "产品/服务形态"},
		"target":  map[string]any{"type": "string", "description": "目标客群"},
		"price":   map[string]any{"type": "string", "description": "利润天花板 (高)"},
		"niche":   map[string]any{"type": "string", "description": "破局切入点 (小)"},
		"diff":    map[string]any{"type": "string", "description": "核心差异化 (新)"},
		"scores": map[string]any{
			"type":        "object",
			"description": "三个维度的打分",
			"properties": map[string]any{
				"high":  map[string]any{"type": "number", "minimum": 0, "maximum": 5, "description": "高维度评分 0-5"},
				"small": map[string]any{"type": "number", "minimum": 0, "maximum": 5, "description": "小维度评分 0-5"},
				"new":   map[string]any{"type": "number", "minimum": 0, "maximum": 5, "description": "新维度评分 0-5"},
			},
		},
		"scoreReasons": map[string]any{
			"type":        "object",
			"description": "各维度评分的简要依据，便于用户理解",
			"properties": map[string]any{
				"high":  map[string]any{"type": "string", "description": "高维度的评分依据，一句话说明"},
				"small": map[string]any{"type": "string", "description": "小维度的评分依据，一句话说明"},
				"new":   map[string]any{"type": "string", "description": "新维度的评分依据，一句话说明"},
			},
		},
		"summary": map[string]any{"type": "string", "description": "简短诊断总结"},
		"actionList": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "3-5个具体的下一步行动建议",
		},
		"suggestedReplies": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "每轮回复建议提供 1-2 条，作为用户可一键发送的快捷选项，便于推进对话",
		},
	},
}

var bmcToolSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"partners":     map[string]any{"type": "string", "description": "关键合作伙伴 (KP)"},
		"activities":   map[string]any{"type": "string", "description": "关键业务 (KA)"},
		"resources":    map[string]any{"type": "string", "description": "核心资源 (KR)"},
		"value":        map[string]any{"type": "string", "description": "价值主张 (VP)"},
		"relationship": map[string]any{"type": "string", "description": "客户关系 (CR)"},
		"channels":     map[string]any{"type": "string", "description": "渠道通路 (CH)"},
		"segments":     map[string]any{"type": "string", "description": "客户细分 (CS)"},
		"costs":        map[string]any{"type": "string", "description": "成本结构 (C$)"},
		"revenue":      map[string]any{"type": "string", "description": "收入来源 (R$)"},
	},
}
