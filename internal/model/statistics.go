package model

// PanelStatistics 管理后台统计
type PanelStatistics struct {
	TotalKeys        int64            `json:"total_keys"`
	KeysByStatus     map[string]int64 `json:"keys_by_status"`
	TotalUsers       int64            `json:"total_users"`
	PendingUsers     int64            `json:"pending_users"`
	DepositsByStatus map[string]int64 `json:"deposits_by_status"`
	CreditedTotal    int64            `json:"credited_total"`
	SpentTotal       int64            `json:"spent_total"`
	TotalActivations int64            `json:"total_activations"`
	FailedActivation int64            `json:"failed_activations"`
}

// GetSuccessRate 激活成功率
func (s *PanelStatistics) GetSuccessRate() float64 {
	if s.TotalActivations == 0 {
		return 0
	}
	return float64(s.TotalActivations-s.FailedActivation) / float64(s.TotalActivations)
}
