package dataset

import (
	"fmt"

	"github.com/tidemark-io/tidemark/internal/core/storage"
)

// Registry resolves configured data sets by name or by their
// data-group/data-type pair.
type Registry struct {
	byName      map[string]*DataSet
	byGroupType map[string]*DataSet
	ordered     []*DataSet
}

// NewRegistry builds the facade for every definition against the shared
// engine. Definitions are assumed pre-validated for uniqueness.
func NewRegistry(defs []Config, engine storage.Engine, notify Notifier) *Registry {
	r := &Registry{
		byName:      make(map[string]*DataSet, len(defs)),
		byGroupType: make(map[string]*DataSet, len(defs)),
	}
	for _, def := range defs {
		ds := New(def, engine, notify)
		r.byName[def.Name] = ds
		r.byGroupType[groupTypeKey(def.DataGroup, def.DataType)] = ds
		r.ordered = append(r.ordered, ds)
	}
	return r
}

// ByName looks a data set up by its identifier.
func (r *Registry) ByName(name string) (*DataSet, bool) {
	ds, ok := r.byName[name]
	return ds, ok
}

// ByGroupType looks a data set up by its data-group/data-type pair.
func (r *Registry) ByGroupType(group, typ string) (*DataSet, bool) {
	ds, ok := r.byGroupType[groupTypeKey(group, typ)]
	return ds, ok
}

// All returns every data set in definition order.
func (r *Registry) All() []*DataSet {
	return r.ordered
}

func groupTypeKey(group, typ string) string {
	return fmt.Sprintf("%s/%s", group, typ)
}
