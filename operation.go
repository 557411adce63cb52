package lemonproxy

// Operation describes one request against a proxy and carries its outcome.
type Operation struct {
	Records []*Record

	// ID requests a single record on a flat read.
	ID interface{}

	Sorters []Sorter
	Filters []Filter
	Start   int
	// Limit of 0 means unbounded.
	Limit int

	// RecordCreator overrides the model's record constructor on reads.
	RecordCreator func(data M) *Record

	completed  bool
	successful bool
	err        error
	resultSet  *ResultSet
	removed    map[string]*Record
}

// ResultSet is the outcome of a read.
type ResultSet struct {
	Records []*Record
	// Count is the number of records returned.
	Count int
	// Total is the number of records in the backing collection.
	Total   int
	Success bool
}

func (op *Operation) IsCompleted() bool {
	return op.completed
}

func (op *Operation) Successful() bool {
	return op.completed && op.successful
}

// Err is the operation level failure, e.g. ErrUnableToLoadRecords.
func (op *Operation) Err() error {
	return op.err
}

func (op *Operation) ResultSet() *ResultSet {
	return op.resultSet
}

// Removed maps the identity of every record an erase removed, descendants
// included, to the removed record.
func (op *Operation) Removed() map[string]*Record {
	return op.removed
}

func (op *Operation) setSuccessful() {
	op.completed = true
	op.successful = true
	op.err = nil
}

func (op *Operation) setException(err error) {
	op.completed = true
	op.successful = false
	op.err = err
}

func (op *Operation) creator(m *Model) func(data M) *Record {
	if op.RecordCreator != nil {
		return op.RecordCreator
	}
	return m.NewRecord
}
