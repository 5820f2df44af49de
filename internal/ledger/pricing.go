package ledger

const (
	DefaultDays = 30
	daysPerUnit = 30
)

// Price 不足 30 天按 30 天计
func Price(base int64, days int) int64 {
	if days <= 0 {
		days = DefaultDays
	}
	units := (days + daysPerUnit - 1) / daysPerUnit
	return base * int64(units)
}
