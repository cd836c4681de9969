package engine

// adjacency is an ordered set of records: link order is kept, membership
// is O(1).
type adjacency struct {
	list  []*Record
	index map[*Record]int
}

func (a *adjacency) has(r *Record) bool {
	if a == nil {
		return false
	}
	_, ok := a.index[r]
	return ok
}

func (a *adjacency) add(r *Record) bool {
	if a.has(r) {
		return false
	}
	if a.index == nil {
		a.index = make(map[*Record]int)
	}
	a.index[r] = len(a.list)
	a.list = append(a.list, r)
	return true
}

func (a *adjacency) remove(r *Record) bool {
	i, ok := a.index[r]
	if !ok {
		return false
	}
	copy(a.list[i:], a.list[i+1:])
	a.list[len(a.list)-1] = nil
	a.list = a.list[:len(a.list)-1]
	delete(a.index, r)
	for j := i; j < len(a.list); j++ {
		a.index[a.list[j]] = j
	}
	return true
}

// edgeSet stores every edge of one relation pair exactly once, with a
// forward index (left record -> right records) and a backward index (right
// record -> left records). Reads project whichever index matches the
// reader's side, so the two sides cannot disagree.
//
// A symmetric self-inverse relation keeps both directions in fwd.
type edgeSet struct {
	pair *relationPair
	fwd  map[*Record]*adjacency
	bwd  map[*Record]*adjacency
}

func newEdgeSet(p *relationPair) *edgeSet {
	return &edgeSet{
		pair: p,
		fwd:  make(map[*Record]*adjacency),
		bwd:  make(map[*Record]*adjacency),
	}
}

func (es *edgeSet) out(x *Record) []*Record {
	if a := es.fwd[x]; a != nil {
		return a.list
	}
	return nil
}

func (es *edgeSet) in(y *Record) []*Record {
	if es.pair.symmetric {
		return es.out(y)
	}
	if a := es.bwd[y]; a != nil {
		return a.list
	}
	return nil
}

func (es *edgeSet) linked(x, y *Record) bool {
	return es.fwd[x].has(y)
}

func (es *edgeSet) insert(x, y *Record) {
	adj(es.fwd, x).add(y)
	if es.pair.symmetric {
		adj(es.fwd, y).add(x)
		return
	}
	adj(es.bwd, y).add(x)
}

func (es *edgeSet) remove(x, y *Record) {
	drop(es.fwd, x, y)
	if es.pair.symmetric {
		drop(es.fwd, y, x)
		return
	}
	drop(es.bwd, y, x)
}

func adj(m map[*Record]*adjacency, r *Record) *adjacency {
	a := m[r]
	if a == nil {
		a = &adjacency{}
		m[r] = a
	}
	return a
}

func drop(m map[*Record]*adjacency, from, to *Record) {
	a := m[from]
	if a == nil {
		return
	}
	a.remove(to)
	if len(a.list) == 0 {
		delete(m, from)
	}
}

// orient maps (record, field) plus the other end to (left, right).
func orient(rec *Record, f *fieldDesc, other *Record) (x, y *Record) {
	if f.left {
		return rec, other
	}
	return other, rec
}

// linked returns the records on the other end of rec's field. The slice is
// owned by the edge set.
func (e *Engine) linked(rec *Record, f *fieldDesc) []*Record {
	es := e.edges[f.pair.id]
	if f.left {
		return es.out(rec)
	}
	return es.in(rec)
}

func (e *Engine) isLinked(rec *Record, f *fieldDesc, other *Record) bool {
	x, y := orient(rec, f, other)
	return e.edges[f.pair.id].linked(x, y)
}

// link adds the edge rec.f -> other. Linking into a to-one side first
// removes that side's current edge, so both ends stay consistent.
func (e *Engine) link(rec *Record, f *fieldDesc, other *Record) {
	es := e.edges[f.pair.id]
	p := es.pair
	x, y := orient(rec, f, other)
	if es.linked(x, y) {
		return
	}

	if !p.left.toMany() {
		for _, old := range clone(es.out(x)) {
			e.removeEdge(es, x, old)
		}
		if p.symmetric {
			for _, old := range clone(es.out(y)) {
				e.removeEdge(es, y, old)
			}
		}
	}
	if p.right != nil && !p.right.toMany() {
		for _, old := range clone(es.in(y)) {
			e.removeEdge(es, old, y)
		}
	}

	es.insert(x, y)
	e.edgeChanged(p, x, y)
}

// unlink removes the edge rec.f -> other if present.
func (e *Engine) unlink(rec *Record, f *fieldDesc, other *Record) {
	es := e.edges[f.pair.id]
	x, y := orient(rec, f, other)
	if !es.linked(x, y) {
		return
	}
	e.removeEdge(es, x, y)
}

func (e *Engine) removeEdge(es *edgeSet, x, y *Record) {
	es.remove(x, y)
	e.edgeChanged(es.pair, x, y)
}

// edgeChanged reports both touched (record, field) ends to the tracker.
func (e *Engine) edgeChanged(p *relationPair, x, y *Record) {
	e.changes++
	e.touch(x, p.left)
	switch {
	case p.symmetric:
		e.touch(y, p.left)
	case p.right != nil:
		e.touch(y, p.right)
	}
}

// replace sets the field to exactly targets: stale edges are unlinked,
// missing ones linked, the rest left alone.
func (e *Engine) replace(rec *Record, f *fieldDesc, targets []*Record) {
	want := make(map[*Record]bool, len(targets))
	for _, t := range targets {
		want[t] = true
	}
	for _, cur := range clone(e.linked(rec, f)) {
		if !want[cur] {
			e.unlink(rec, f, cur)
		}
	}
	for _, t := range targets {
		e.link(rec, f, t)
	}
}

// unlinkEverything removes every edge the record takes part in, including
// inverse-less relations that point at it.
func (e *Engine) unlinkEverything(rec *Record) {
	for _, f := range rec.model.order {
		if !f.spec.IsRelation() {
			continue
		}
		for _, other := range clone(e.linked(rec, f)) {
			e.unlink(rec, f, other)
		}
	}
	for _, p := range rec.model.incoming {
		es := e.edges[p.id]
		for _, x := range clone(es.in(rec)) {
			e.removeEdge(es, x, rec)
		}
	}
}

func clone(rs []*Record) []*Record {
	if len(rs) == 0 {
		return nil
	}
	out := make([]*Record, len(rs))
	copy(out, rs)
	return out
}
