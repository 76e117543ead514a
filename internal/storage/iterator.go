package storage

// FuncIterator adapts a pull function to RowIterator.
type FuncIterator struct {
	next    func() (string, Row, bool, error)
	onClose func() error
	key     string
	row     Row
	err     error
	done    bool
}

// NewFuncIterator builds an iterator from next, which returns the next key
// and row, false when exhausted, or an error. onClose may be nil.
func NewFuncIterator(next func() (string, Row, bool, error), onClose func() error) *FuncIterator {
	return &FuncIterator{next: next, onClose: onClose}
}

func (it *FuncIterator) Next() bool {
	if it.done {
		return false
	}
	key, row, ok, err := it.next()
	if err != nil {
		it.err = err
	}
	if !ok || err != nil {
		it.done = true
		it.key, it.row = "", nil
		return false
	}
	it.key, it.row = key, row
	return true
}

func (it *FuncIterator) Key() string { return it.key }

func (it *FuncIterator) Row() Row { return it.row }

func (it *FuncIterator) Err() error { return it.err }

// Close ends iteration. It is safe to call more than once.
func (it *FuncIterator) Close() error {
	it.done = true
	if it.onClose == nil {
		return nil
	}
	fn := it.onClose
	it.onClose = nil
	return fn()
}

// EmptyIterator returns an iterator with no rows.
func EmptyIterator() RowIterator {
	return NewFuncIterator(func() (string, Row, bool, error) { return "", nil, false, nil }, nil)
}
