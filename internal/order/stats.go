package order

// Stats 聚合了订单状态的统计信息。
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

func newStats() Stats {
	stats := Stats{ByStatus: make(map[Status]int, len(AllStatuses))}
	for _, s := range AllStatuses {
		stats.ByStatus[s] = 0
	}
	return stats
}
