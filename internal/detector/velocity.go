package detector

import (
	"fmt"

	"github.com/remitwatch/kestrel/internal/domain"
)

// Velocity flags subjects moving money too often or in too large a total
// over the trailing window. The count and amount thresholds fire
// independently, so one run can produce up to two alerts.
type Velocity struct {
	cfg    domain.DetectorConfig
	active map[domain.TransactionState]bool
}

// NewVelocity creates a velocity detector with the configured thresholds.
func NewVelocity(cfg domain.DetectorConfig) *Velocity {
	active := make(map[domain.TransactionState]bool, len(cfg.ActiveStates))
	for _, s := range cfg.ActiveStates {
		active[s] = true
	}
	return &Velocity{cfg: cfg, active: active}
}

// Name implements Detector.
func (v *Velocity) Name() string { return "velocity" }

// Detect counts qualifying transactions and their summed amount over the
// window. count > VelocityMaxCount raises a MEDIUM alert; summed amount >
// VelocityMaxAmount raises a separate HIGH alert.
func (v *Velocity) Detect(in *Input) []*domain.Alert {
	count := 0
	total := 0.0

	for _, tx := range in.Transactions {
		if !inWindow(in, tx) || !v.active[tx.State] {
			continue
		}
		count++
		total += tx.Amount
	}

	hours := int(in.Window.Hours())
	var alerts []*domain.Alert

	if count > v.cfg.VelocityMaxCount {
		alerts = append(alerts, newAlert(in,
			domain.AlertVelocityCount, domain.SeverityMedium, "",
			fmt.Sprintf("%d transactions in %dh exceeds the %d transaction limit", count, hours, v.cfg.VelocityMaxCount),
			map[string]interface{}{
				"transactionCount": count,
				"windowHours":      hours,
				"limit":            v.cfg.VelocityMaxCount,
			},
		))
	}

	if total > v.cfg.VelocityMaxAmount {
		alerts = append(alerts, newAlert(in,
			domain.AlertVelocityAmount, domain.SeverityHigh, "",
			fmt.Sprintf("%.2f moved in %dh exceeds the %.2f amount limit", total, hours, v.cfg.VelocityMaxAmount),
			map[string]interface{}{
				"totalAmount": total,
				"windowHours": hours,
				"limit":       v.cfg.VelocityMaxAmount,
			},
		))
	}

	return alerts
}
