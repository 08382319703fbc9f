package sstable

// Iterator walks every entry of a table in ascending key order. It is single
// pass; open a new one to start over.
type Iterator struct {
	r     *Reader
	next  int
	block *blockIter
	key   []byte
	value []byte
	err   error
}

func (r *Reader) Iterator() *Iterator {
	return &Iterator{r: r}
}

func (it *Iterator) Next() bool {
	for it.err == nil {
		if it.block != nil {
			if it.block.next() {
				it.key, it.value = it.block.key, it.block.value
				return true
			}
			if it.block.err != nil {
				it.err = it.block.err
				break
			}
		}
		if it.next >= it.r.index.Len() {
			break
		}
		it.block, it.err = it.load(it.r.index.Handle(it.next))
		it.next++
	}
	it.key, it.value = nil, nil
	return false
}

func (it *Iterator) load(h BlockHandle) (*blockIter, error) {
	it.r.mu.RLock()
	data, err := it.r.readBlock(h)
	it.r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return newBlockIter(data)
}

func (it *Iterator) Key() []byte {
	return it.key
}

func (it *Iterator) Value() []byte {
	return it.value
}

func (it *Iterator) Err() error {
	return it.err
}
