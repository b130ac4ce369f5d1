package metrics

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordMessageSent(string, string) {}
func (Nop) RecordError(string)               {}
func (Nop) RecordLastPrice(string, float64)  {}
func (Nop) RecordLatency(string, float64)    {}
func (Nop) RecordJob(string, float64)        {}
func (Nop) RecordThresholdEvent(string)      {}
