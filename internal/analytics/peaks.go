package analytics

// InPeakWindow reports whether an hour of day falls inside the morning or
// evening peak window. Shared with the prediction feature encoding.
func InPeakWindow(hour int) bool {
	return (hour >= morningWindowStart && hour <= morningWindowEnd) ||
		(hour >= eveningWindowStart && hour <= eveningWindowEnd)
}
