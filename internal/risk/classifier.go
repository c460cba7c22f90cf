package risk

type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

const (
	MediumThreshold = 1000.0
	HighThreshold   = 10000.0
)

// Classify maps a transaction amount to a coarse risk bucket.
func Classify(amount float64) Level {
	switch {
	case amount >= HighThreshold:
		return LevelHigh
	case amount >= MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}
