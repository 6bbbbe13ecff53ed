package core

// MetricType identifies the unit of an incoming traffic observation.
type MetricType string

const (
	MetricSpeedKmh       MetricType = "SPEED_KMH"
	MetricFlowVehPerHour MetricType = "FLOW_VEH_PER_HOUR"
	MetricTravelTimeSec  MetricType = "TRAVEL_TIME_SEC"
)

// Observation is the normalized tuple every data source produces, whether it
// came from the synthetic demand generator, a live provider poller, or a
// manual API push. The fusion adapter is the only consumer.
type Observation struct {
	Source     string     `json:"source"`
	LinkID     string     `json:"link_id"`
	Timestamp  float64    `json:"timestamp"` // unix seconds
	Metric     MetricType `json:"metric"`
	Value      float64    `json:"value"`
	Confidence float64    `json:"confidence"` // 1.0 = observed, 0.5 = interpolated
}
