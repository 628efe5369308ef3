package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/preset"
)

func TestRenderCanvasBMCFieldOrderStable(t *testing.T) {
	p, ok := preset.Get(preset.BMCID)
	if !ok {
		t.Fatal("bmc preset missing")
	}
	rec := canvas.Record{"segments": "一线城市律所", "value": "即时法条检索"}

	var first bytes.Buffer
	renderCanvas(&first, p, rec)
	out := first.String()

	prev := -1
	for _, f := range bmcFields {
		idx := strings.Index(out, f.label)
		if idx < 0 {
			t.Fatalf("label %s missing from output", f.label)
		}
		if idx < prev {
			t.Errorf("label %s out of order", f.label)
		}
		prev = idx
	}

	var second bytes.Buffer
	renderCanvas(&second, p, rec)
	if out != second.String() {
		t.Error("render output not deterministic")
	}
}
