package wshub

// Subscription is one (event, filter) pair owned by a Connection.
type Subscription struct {
	ID     string
	Event  string
	Raw    *RawFilter
	Filter *NormalizedFilter
}
