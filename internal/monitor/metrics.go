package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tailchase_monitor_cycles_total",
		Help: "Completed monitoring cycles.",
	})
	cyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tailchase_monitor_cycles_skipped_total",
		Help: "Monitoring cycles skipped because the capture source failed.",
	})
	sightingsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tailchase_sightings_processed_total",
		Help: "Device sightings fed into the detector.",
	})
	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tailchase_alerts_total",
		Help: "Reappearance alerts raised, by kind.",
	}, []string{"kind"})
	suspiciousDevices = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tailchase_suspicious_devices_total",
		Help: "Devices that crossed the persistence threshold.",
	})
	trackedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tailchase_tracked_devices",
		Help: "Distinct devices in the detection ledger.",
	})
)
