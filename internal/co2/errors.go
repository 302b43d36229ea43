package co2

// constError is an immutable error type for sentinel errors.
type constError string

func (e constError) Error() string { return string(e) }

var (
	// ErrUnknownCategory is returned for a category outside LIGHT, TECHNICAL and INTENSIVE.
	ErrUnknownCategory = constError("unknown task category")

	// ErrInvalidDuration is returned for negative estimated hours.
	ErrInvalidDuration = constError("invalid duration")

	// ErrInvalidRate is returned when a rate table entry is missing or not positive.
	ErrInvalidRate = constError("invalid emission rate")
)
