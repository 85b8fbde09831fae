package tar

// Config mirrors the knobs an extractor built on this decoder would need.
// Nothing in this package reads it; decoding behavior never depends on it.
// It exists so extraction-side code (outside this package's scope) has a
// conventional place to hang these settings.
type Config struct {
	UnpackXattrs        bool
	PreservePermissions bool
	PreserveMtime       bool
	IgnoreZeros         bool
}
