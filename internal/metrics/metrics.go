package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apobot_messages_processed_total",
		Help: "Messages from members routed through the moderation pipeline",
	})

	MessageProcessingTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "apobot_message_processing_seconds",
		Help:    "Time spent handling one message event",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
	})

	OccurrenceRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "apobot_occurrence_records",
		Help: "Live records in the duplicate-message log after the last sweep",
	})

	SpamDetections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apobot_spam_detections_total",
		Help: "Bursts of duplicated messages classified as spam",
	})

	// ModerationFailures counts failed punitive steps by step (ban, purge, notify).
	ModerationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apobot_moderation_failures_total",
		Help: "Punitive steps that failed after a spam detection",
	}, []string{"step"})

	MessagesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apobot_messages_purged_total",
		Help: "Messages deleted while purging spammers",
	})

	// RoleChanges counts role grants and revocations by source and action.
	RoleChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apobot_role_changes_total",
		Help: "Role grants and revocations",
	}, []string{"source", "action"})

	SkippedChannels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "apobot_activity_skipped_channels_total",
		Help: "Channels the activity scan could not read",
	})

	TypoCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "apobot_typo_corrections_total",
		Help: "Correction replies sent, by pattern",
	}, []string{"pattern"})
)
