package scheduler

import "time"

const (
	// DefaultMinLaneInterval is the smallest per-lane spacing accepted before
	// another lane is opened.
	DefaultMinLaneInterval = 10 * time.Minute

	// DefaultBucketMinutes is the width of the finest histogram bucket.
	DefaultBucketMinutes = 10

	// DefaultHistogramTTL bounds how long a computed histogram is served from cache.
	DefaultHistogramTTL = 30 * time.Second

	auditResource   = "scheduler"
	actionEditJob   = "edit"
	actionRebalance = "rebalance"
	actionViewLoad  = "view"
	hoursPerDay     = 24
	daysPerWeek     = 7
	minutesPerHour  = 60
)

// DefaultIntervalTable lists the lane intervals a redistribution snaps down to.
var DefaultIntervalTable = []time.Duration{
	60 * time.Minute,
	30 * time.Minute,
	15 * time.Minute,
	10 * time.Minute,
	5 * time.Minute,
}
