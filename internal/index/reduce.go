package index

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/Aman-CERP/docindex/internal/store"
)

// reduceState holds the map output of every document, grouped, so a group
// can be recomputed from scratch whenever one of its documents changes.
type reduceState struct {
	groups    map[string]map[string][]Draft
	docGroups map[string][]string
	docGen    map[string]store.Generation
	docEntity map[string]string
}

func newReduceState() *reduceState {
	return &reduceState{
		groups:    make(map[string]map[string][]Draft),
		docGroups: make(map[string][]string),
		docGen:    make(map[string]store.Generation),
		docEntity: make(map[string]string),
	}
}

// remove drops every contribution of docID and marks its groups dirty.
func (r *reduceState) remove(docID string, dirty map[string]struct{}) {
	for _, g := range r.docGroups[docID] {
		delete(r.groups[g], docID)
		if len(r.groups[g]) == 0 {
			delete(r.groups, g)
		}
		dirty[g] = struct{}{}
	}
	delete(r.docGroups, docID)
	delete(r.docGen, docID)
	delete(r.docEntity, docID)
}

// add records the grouped drafts of docID and marks their groups dirty.
func (r *reduceState) add(docID, entity string, gen store.Generation, grouped map[string][]Draft, dirty map[string]struct{}) {
	if len(grouped) == 0 {
		return
	}
	groups := make([]string, 0, len(grouped))
	for g, drafts := range grouped {
		if r.groups[g] == nil {
			r.groups[g] = make(map[string][]Draft)
		}
		r.groups[g][docID] = drafts
		groups = append(groups, g)
		dirty[g] = struct{}{}
	}
	sort.Strings(groups)
	r.docGroups[docID] = groups
	r.docGen[docID] = gen
	r.docEntity[docID] = entity
}

// input returns the contributions of a group in document id order along with
// the contributing ids.
func (r *reduceState) input(group string) ([]Draft, []string) {
	byDoc := r.groups[group]
	docs := slices.Sorted(maps.Keys(byDoc))
	var drafts []Draft
	for _, id := range docs {
		drafts = append(drafts, byDoc[id]...)
	}
	return drafts, docs
}

// reduceGroup recomputes one group. A group with no contributions yields no
// entries.
func (w *worker) reduceGroup(idx *index, group string) []Entry {
	r := idx.reduce
	input, docs := r.input(group)
	if len(input) == 0 {
		return nil
	}
	def := idx.def

	out, err := safeReduce(def.Reduce, group, input)
	if err != nil {
		w.engine.diagnostics.report(def.Name, "", group, r.maxGen(docs),
			mapEvaluationError(def.Name, "", fmt.Errorf("reduce of group %q: %w", group, err)))
		idx.mapErrors.Add(1)
		w.engine.metrics.MapErrors.WithLabelValues(def.Name).Inc()
		return nil
	}

	if w.engine.config.VerifyReduce {
		w.verifyReduce(idx, group, input, out, r.maxGen(docs))
	}

	gen := r.maxGen(docs)
	entity := r.commonEntity(docs)
	entries := make([]Entry, 0, len(out))
	for i, d := range out {
		values, err := normalize(def, d, w.engine.analyzer)
		if err != nil {
			w.engine.diagnostics.report(def.Name, "", group, gen,
				mapEvaluationError(def.Name, "", fmt.Errorf("reduce output of group %q: %w", group, err)))
			idx.mapErrors.Add(1)
			w.engine.metrics.MapErrors.WithLabelValues(def.Name).Inc()
			return nil
		}
		e := Entry{
			GroupKey:   group,
			Entity:     entity,
			Values:     values,
			Generation: gen,
			Ordinal:    i,
			Sources:    docs,
		}
		switch {
		case d.DocumentID != "":
			e.DocumentID = d.DocumentID
		case len(docs) == 1:
			e.DocumentID = docs[0]
		}
		entries = append(entries, e)
	}
	return entries
}

// verifyReduce checks that the reduce output does not depend on input order
// and that reducing the output again is a fixed point.
func (w *worker) verifyReduce(idx *index, group string, input, out []Draft, gen store.Generation) {
	def := idx.def
	reversed := slices.Clone(input)
	slices.Reverse(reversed)

	warn := func(msg string) {
		w.engine.diagnostics.report(def.Name, "", group, gen, reduceInvariantError(def.Name, group, msg))
		w.engine.metrics.ReduceWarnings.WithLabelValues(def.Name).Inc()
	}

	if again, err := safeReduce(def.Reduce, group, reversed); err != nil || !sameDrafts(out, again) {
		warn("reduce result depends on input order")
		return
	}
	if again, err := safeReduce(def.Reduce, group, out); err != nil || !sameDrafts(out, again) {
		warn("re-reducing the reduce output changed it")
	}
}

func (r *reduceState) maxGen(docs []string) store.Generation {
	var last store.Generation
	for _, id := range docs {
		if g := r.docGen[id]; g > last {
			last = g
		}
	}
	return last
}

func (r *reduceState) commonEntity(docs []string) string {
	if len(docs) == 0 {
		return ""
	}
	entity := r.docEntity[docs[0]]
	for _, id := range docs[1:] {
		if r.docEntity[id] != entity {
			return ""
		}
	}
	return entity
}

func safeReduce(red Reducer, group string, drafts []Draft) (out []Draft, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reduce panicked: %v", p)
		}
	}()
	in := make([]Draft, len(drafts))
	for i, d := range drafts {
		in[i] = Draft{DocumentID: d.DocumentID, GroupKey: d.GroupKey, Fields: maps.Clone(d.Fields)}
	}
	return red.Reduce(group, in)
}

// sameDrafts compares two draft lists as multisets.
func sameDrafts(a, b []Draft) bool {
	if len(a) != len(b) {
		return false
	}
	fa, fb := fingerprints(a), fingerprints(b)
	return slices.Equal(fa, fb)
}

func fingerprints(drafts []Draft) []string {
	out := make([]string, len(drafts))
	for i, d := range drafts {
		var b strings.Builder
		b.WriteString(d.DocumentID)
		b.WriteByte(0)
		for _, k := range slices.Sorted(maps.Keys(d.Fields)) {
			fmt.Fprintf(&b, "%s=%v;", k, canonical(d.Fields[k]))
		}
		out[i] = b.String()
	}
	sort.Strings(out)
	return out
}

// canonical rounds floats to 12 significant digits so sums that differ only
// in the last bits compare equal.
func canonical(v any) any {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', 12, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', 12, 32)
	}
	return v
}
