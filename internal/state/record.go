package state

import "time"

// MarkerYes is the only value that enables enforcement.
const MarkerYes = "yes"

// Marker is an operator-controlled text flag stored in a nullable column.
// A NULL column is unset; any stored value, including "no" or an empty
// string, counts as set.
type Marker struct {
	Value string
	Valid bool
}

// Unset returns a marker with no value.
func Unset() Marker {
	return Marker{}
}

// Mark returns a set marker carrying v.
func Mark(v string) Marker {
	return Marker{Value: v, Valid: true}
}

// IsSet reports whether the marker holds any value.
func (m Marker) IsSet() bool {
	return m.Valid
}

// IsYes reports whether the marker is set to exactly "yes".
func (m Marker) IsYes() bool {
	return m.Valid && m.Value == MarkerYes
}

func (m Marker) String() string {
	if !m.Valid {
		return "<unset>"
	}
	return m.Value
}

// Stamp records when and by whom a record transition happened.
type Stamp struct {
	At time.Time
	By string
}

// IsZero reports whether the stamp was never written.
func (s Stamp) IsZero() bool {
	return s.At.IsZero() && s.By == ""
}

// ServiceRecord is the persisted view of one service short name.
//
// Ignore and ForceExpectedState belong to the operator. The engine only
// writes them when the record is first created.
type ServiceRecord struct {
	ShortName          string
	Description        string
	LastObservedState  State
	ExpectedState      State // empty when the operator cleared it
	ForceExpectedState Marker
	ServiceType        ServiceType
	ImagePath          string
	RunAsAccount       string
	Ignore             Marker
	Notes              string
	Established        Stamp
	Edited             Stamp
	Inactivated        Stamp
}

// NewRecord builds the record for a service seen for the first time. The
// expected state is seeded from the observation and monitoring starts
// suppressed until an operator clears the ignore marker.
func NewRecord(obs ObservedService, meta Metadata, expand func(string) string, established Stamp) *ServiceRecord {
	imagePath := meta.ImagePath
	if expand != nil {
		imagePath = expand(imagePath)
	}
	return &ServiceRecord{
		ShortName:          obs.ShortName,
		Description:        obs.Description,
		LastObservedState:  obs.State,
		ExpectedState:      obs.State,
		ForceExpectedState: Unset(),
		ServiceType:        obs.Type,
		ImagePath:          imagePath,
		RunAsAccount:       meta.RunAsAccount,
		Ignore:             Mark(MarkerYes),
		Established:        established,
	}
}

// Metadata is what the host can tell about a service beyond the snapshot.
type Metadata struct {
	ImagePath    string
	RunAsAccount string
}

// Operator copies the operator-controlled fields of src into r.
func (r *ServiceRecord) Operator(src *ServiceRecord) {
	r.ExpectedState = src.ExpectedState
	r.ForceExpectedState = src.ForceExpectedState
	r.Ignore = src.Ignore
	r.Notes = src.Notes
	r.Edited = src.Edited
}

// Table maps short names to their records. It is owned by a single engine
// and is not safe for concurrent use.
type Table map[string]*ServiceRecord

// NewTable builds a table from a slice of records.
func NewTable(records []*ServiceRecord) Table {
	t := make(Table, len(records))
	for _, r := range records {
		t[r.ShortName] = r
	}
	return t
}

// Get returns the record for name.
func (t Table) Get(name string) (*ServiceRecord, bool) {
	r, ok := t[name]
	return r, ok
}

// Put adds or replaces a record.
func (t Table) Put(r *ServiceRecord) {
	t[r.ShortName] = r
}

// LogEvent is an append-only journal entry. ServiceName is empty for
// system-wide messages.
type LogEvent struct {
	ID          int64
	ServiceName string
	Message     string
	At          time.Time
	Originator  string
}
