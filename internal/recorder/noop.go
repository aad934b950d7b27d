package recorder

// NoopRecorder is used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordRefresh(_ *RefreshEvent) error { return nil }
func (n *NoopRecorder) RecordDay(_ *DaySnapshot) error      { return nil }
func (n *NoopRecorder) Close() error                        { return nil }
