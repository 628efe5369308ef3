package api

import (
	"net/http"

	"github.com/bizlens/bizlens/internal/canvas"
	"github.com/bizlens/bizlens/internal/preset"
)

// presetView is the public projection of a preset. The system prompt stays
// server-side.
type presetView struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Description     string              `json:"description"`
	WelcomeMessages []string            `json:"welcomeMessages"`
	DefaultCanvas   canvas.Record       `json:"defaultCanvas"`
	GuidedSteps     []preset.GuidedStep `json:"guidedSteps,omitempty"`
}

// HandleListPresets handles GET /api/presets.
func (h *Handler) HandleListPresets(w http.ResponseWriter, r *http.Request) {
	all := preset.All()
	views := make([]presetView, 0, len(all))
	for _, p := range all {
		views = append(views, presetView{
			ID:              p.ID,
			Name:            p.Name,
			Description:     p.Description,
			WelcomeMessages: p.WelcomeMessages,
			DefaultCanvas:   p.DefaultCanvas.Clone(),
			GuidedSteps:     p.GuidedSteps,
		})
	}
	JSON(w, http.StatusOK, map[string]any{
		"presets": views,
		"default": preset.DefaultID,
	})
}
