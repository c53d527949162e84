package detector

import (
	"fmt"

	"github.com/remitwatch/kestrel/internal/domain"
)

// Structuring flags repeated transactions kept just under the reporting
// ceiling. The band is inclusive on both ends and sits deliberately below
// the velocity amount threshold.
type Structuring struct {
	cfg domain.DetectorConfig
}

// NewStructuring creates a structuring detector with the configured band.
func NewStructuring(cfg domain.DetectorConfig) *Structuring {
	return &Structuring{cfg: cfg}
}

// Name implements Detector.
func (s *Structuring) Name() string { return "structuring" }

// Detect collects in-band transactions over the window and raises one HIGH
// alert listing the matched transaction IDs when there are at least
// StructuringMinHits of them.
func (s *Structuring) Detect(in *Input) []*domain.Alert {
	var matched []string

	for _, tx := range in.Transactions {
		if !inWindow(in, tx) {
			continue
		}
		if tx.Amount >= s.cfg.StructuringFloor && tx.Amount <= s.cfg.StructuringCeiling {
			matched = append(matched, tx.ID)
		}
	}

	if len(matched) < s.cfg.StructuringMinHits {
		return nil
	}

	ids := make([]interface{}, len(matched))
	for i, id := range matched {
		ids[i] = id
	}

	return []*domain.Alert{newAlert(in,
		domain.AlertStructuring, domain.SeverityHigh, "",
		fmt.Sprintf("%d transactions between %.2f and %.2f in %dh suggest structuring",
			len(matched), s.cfg.StructuringFloor, s.cfg.StructuringCeiling, int(in.Window.Hours())),
		map[string]interface{}{
			"transactionIds": ids,
			"bandFloor":      s.cfg.StructuringFloor,
			"bandCeiling":    s.cfg.StructuringCeiling,
		},
	)}
}
