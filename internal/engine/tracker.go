package engine

// fieldRef names one field of one record.
type fieldRef struct {
	rec   *Record
	field *fieldDesc
}

func (r fieldRef) String() string {
	return r.rec.localID + "." + r.field.name()
}

// refSet is an ordered set of fieldRefs. Order matters: it fixes the order
// in which dependents are scheduled, which keeps recomputation (and the
// recompute counts in the journal) deterministic.
type refSet struct {
	list  []fieldRef
	index map[fieldRef]int
}

func (s *refSet) add(r fieldRef) {
	if s.index == nil {
		s.index = make(map[fieldRef]int)
	}
	if _, ok := s.index[r]; ok {
		return
	}
	s.index[r] = len(s.list)
	s.list = append(s.list, r)
}

func (s *refSet) remove(r fieldRef) {
	i, ok := s.index[r]
	if !ok {
		return
	}
	copy(s.list[i:], s.list[i+1:])
	s.list = s.list[:len(s.list)-1]
	delete(s.index, r)
	for j := i; j < len(s.list); j++ {
		s.index[s.list[j]] = j
	}
}

// tracker holds the dynamic dependency edges of related fields:
// (source record, source field) -> (dependent record, dependent field).
//
// Static same-record dependencies live on the schema (fieldDesc.dependents);
// only edges that cross records through a related path are tracked here,
// because they change whenever a relation along the path is reassigned.
type tracker struct {
	watchers map[fieldRef]*refSet
	sources  map[fieldRef][]fieldRef
}

func newTracker() *tracker {
	return &tracker{
		watchers: make(map[fieldRef]*refSet),
		sources:  make(map[fieldRef][]fieldRef),
	}
}

// watch replaces the sources a dependent reads.
func (t *tracker) watch(dep fieldRef, srcs []fieldRef) {
	for _, src := range t.sources[dep] {
		if w := t.watchers[src]; w != nil {
			w.remove(dep)
			if len(w.list) == 0 {
				delete(t.watchers, src)
			}
		}
	}
	if len(srcs) == 0 {
		delete(t.sources, dep)
		return
	}
	t.sources[dep] = srcs
	for _, src := range srcs {
		w := t.watchers[src]
		if w == nil {
			w = &refSet{}
			t.watchers[src] = w
		}
		w.add(dep)
	}
}

func (t *tracker) watchersOf(src fieldRef) []fieldRef {
	if w := t.watchers[src]; w != nil {
		return w.list
	}
	return nil
}

// forget drops every edge that starts or ends at rec.
func (t *tracker) forget(rec *Record) {
	for _, f := range rec.model.order {
		ref := fieldRef{rec, f}
		t.watch(ref, nil)
		if w := t.watchers[ref]; w != nil {
			for _, dep := range w.list {
				t.sources[dep] = without(t.sources[dep], ref)
			}
			delete(t.watchers, ref)
		}
	}
}

func without(refs []fieldRef, drop fieldRef) []fieldRef {
	out := refs[:0]
	for _, r := range refs {
		if r != drop {
			out = append(out, r)
		}
	}
	return out
}
