package types

// Metric namespace and names published per reminder run.
const (
	MetricNamespace = "MealReminders"

	MetricUsersChecked = "UsersChecked"
	MetricMatches      = "SlotMatches"
	MetricSent         = "RemindersSent"
	MetricSkipped      = "SlotsSkipped"
	MetricErrors       = "RunErrors"
	MetricRunDuration  = "RunDuration"

	MetricAPILatency      = "APILatency"
	MetricAPIRequestCount = "APIRequestCount"
)

// Metric dimensions.
const (
	DimTrigger  = "Trigger"
	DimMode     = "Mode"
	DimMethod   = "Method"
	DimEndpoint = "Endpoint"
	DimStatus   = "Status"
)
