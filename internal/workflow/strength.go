package workflow

// Strength bounds on the user scale and the service scale
const (
	MinStrength        = 1
	MaxStrength        = 100
	MinServiceStrength = 1
	MaxServiceStrength = 10
)

// QuantizeStrength maps a 1-100 user strength onto the service's 1-10 scale:
// clamp(ceil(s/10), 1, 10).
func QuantizeStrength(s int) int {
	q := (s + 9) / 10
	if s <= 0 {
		q = 0
	}
	if q < MinServiceStrength {
		return MinServiceStrength
	}
	if q > MaxServiceStrength {
		return MaxServiceStrength
	}
	return q
}
