package schema

// RetryPolicy bounds how often the driver re-invokes a step that returned
// a logical retry, and how long it waits in between.
type RetryPolicy struct {
	Max      int    `json:"max" validate:"gte=0"`                                                         // max retry attempts
	Backoff  string `json:"backoff,omitempty" validate:"omitempty,oneof=none constant linear exponential"` // none | constant | linear | exponential (default: none)
	Delay    string `json:"delay,omitempty"`                                                              // initial delay (e.g. "1s", "500ms")
	MaxDelay string `json:"max_delay,omitempty" split_words:"true"`                                       // cap applied after backoff
}
