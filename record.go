package lemonproxy

// Record is the host-side representation of one persisted record. It owns the
// data map handed to it.
type Record struct {
	model    *Model
	data     M
	phantom  bool
	modified map[string]interface{}

	isNode     bool
	depth      int
	parent     *Record
	childNodes []*Record
}

func newRecord(m *Model, data M) *Record {
	if data == nil {
		data = make(M)
	}

	r := &Record{model: m, data: data}
	r.phantom = data[m.IDField] == nil
	return r
}

// NewRoot returns the implicit depth 0 root node of a tree of records.
func (m *Model) NewRoot() *Record {
	r := newRecord(m, nil)
	r.isNode = true
	r.phantom = false
	return r
}

func (r *Record) Model() *Model {
	return r.model
}

func (r *Record) ID() interface{} {
	return r.data[r.model.IDField]
}

func (r *Record) Get(name string) interface{} {
	return r.data[name]
}

// Set changes a field and remembers its previous value until Commit.
func (r *Record) Set(name string, v interface{}) {
	if r.modified == nil {
		r.modified = make(map[string]interface{})
	}

	if _, ok := r.modified[name]; !ok {
		r.modified[name] = r.data[name]
	}

	r.data[name] = v
}

// setClean changes a field without marking it modified.
func (r *Record) setClean(name string, v interface{}) {
	r.data[name] = v
}

// Data returns the live field data of the record.
func (r *Record) Data() M {
	return r.data
}

// Copy returns a detached record with a shallow copy of the data and no tree links.
func (r *Record) Copy() *Record {
	cp := newRecord(r.model, r.data.Clone())
	cp.phantom = r.phantom
	return cp
}

func (r *Record) IsPhantom() bool {
	return r.phantom
}

func (r *Record) SetPhantom(phantom bool) {
	r.phantom = phantom
}

func (r *Record) IsModified() bool {
	return len(r.modified) > 0
}

// Modified returns the previous values of the fields changed since the last commit.
func (r *Record) Modified() map[string]interface{} {
	return r.modified
}

// Commit accepts all pending changes.
func (r *Record) Commit() {
	r.modified = nil
}

// Reject rolls back all pending changes.
func (r *Record) Reject() {
	for name, prev := range r.modified {
		if prev == nil {
			delete(r.data, name)
			continue
		}
		r.data[name] = prev
	}
	r.modified = nil
}

func (r *Record) IsNode() bool {
	return r.isNode
}

// Depth is 0 for the implicit root, 1 for its direct children.
func (r *Record) Depth() int {
	return r.depth
}

func (r *Record) ParentNode() *Record {
	return r.parent
}

func (r *Record) ChildNodes() []*Record {
	return r.childNodes
}

func (r *Record) IsLeaf() bool {
	return r.data.Bool(LeafField)
}

func (r *Record) IsLoaded() bool {
	return r.data.Bool(LoadedField)
}

// AppendChild attaches child below r. The child's parentId follows r's
// identity unless r is the implicit root.
func (r *Record) AppendChild(child *Record) *Record {
	r.linkChild(child)

	if r.depth >= 1 && r.ID() != nil {
		child.Set(ParentIDField, r.ID())
	}

	return child
}

func (r *Record) linkChild(child *Record) {
	if child.parent != nil {
		child.parent.removeChild(child)
	}

	r.isNode = true
	child.isNode = true
	child.parent = r
	child.setDepth(r.depth + 1)
	r.childNodes = append(r.childNodes, child)
}

func (r *Record) removeChild(child *Record) {
	for i, c := range r.childNodes {
		if c == child {
			r.childNodes = append(r.childNodes[:i], r.childNodes[i+1:]...)
			break
		}
	}
	child.parent = nil
}

func (r *Record) setDepth(d int) {
	r.depth = d
	for _, c := range r.childNodes {
		c.setDepth(d + 1)
	}
}
