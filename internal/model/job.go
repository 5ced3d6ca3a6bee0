package model

// JobDailyUsage is the standing report job covering every registered
// workspace. Both the worker (registration) and the server (status surface)
// refer to it by this ID.
const JobDailyUsage = "daily_usage"

// KnownJobIDs lists every job the service registers, in display order.
func KnownJobIDs() []string {
	return []string{JobDailyUsage}
}
