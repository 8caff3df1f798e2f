package handlers

import (
	"net/http"

	"github.com/ivankudzin/sparkcall/backend/internal/config"
	"github.com/ivankudzin/sparkcall/backend/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/sparkcall/backend/internal/transport/http/errors"
)

type ConfigHandler struct {
	match config.MatchConfig
}

func NewConfigHandler(match config.MatchConfig) *ConfigHandler {
	return &ConfigHandler{match: match}
}

func (h *ConfigHandler) Handle(w http.ResponseWriter, _ *http.Request) {
	httperrors.Write(w, http.StatusOK, dto.ConfigResponse{
		HandshakeTTLSec: int64(h.match.HandshakeTTL.Seconds()),
		DecisionTTLSec:  int64(h.match.DecisionTTL.Seconds()),
		StageDurationsSec: map[string]int64{
			"audio":          int64(h.match.Stage1Duration.Seconds()),
			"audio_extended": int64(h.match.Stage1ExtendedDur.Seconds()),
			"video":          int64(h.match.Stage2Duration.Seconds()),
		},
		ContactWindowSec: int64(h.match.ContactWindow.Seconds()),
		CooldownSec:      int64(h.match.DeclineCooldown.Seconds()),
		Filters: dto.ConfigFilters{
			AgeMin:        h.match.DefaultAgeMin,
			AgeMax:        h.match.DefaultAgeMax,
			MaxDistanceKM: h.match.DefaultMaxDistanceKM,
		},
	})
}
