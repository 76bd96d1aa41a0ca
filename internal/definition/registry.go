package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/concierge/model"
)

// Entry is a table definition together with the domain that declared it.
type Entry struct {
	Domain string
	Table  model.TableDefinition
}

// ServiceID returns the backend service owning the table's operation. An
// unset service defaults to "{domain}-svc".
func (e Entry) ServiceID() string {
	if e.Table.DataSource.ServiceID != "" {
		return e.Table.DataSource.ServiceID
	}
	return e.Domain + "-svc"
}

// snapshot is an immutable view of all loaded definitions.
type snapshot struct {
	domains  map[string]model.DomainDefinition
	tables   map[string]Entry
	order    []string
	checksum string
}

// Registry serves definitions to concurrent readers. Replace swaps the whole
// snapshot at once, so a reader never observes a half-applied reload.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry holding defs.
func NewRegistry(defs []model.DomainDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace swaps in a snapshot built from defs. When two domains declare the
// same table ID the later one wins; the validator reports that case.
func (r *Registry) Replace(defs []model.DomainDefinition) {
	s := &snapshot{
		domains: make(map[string]model.DomainDefinition, len(defs)),
		tables:  make(map[string]Entry),
	}

	var checksumParts []string
	for _, def := range defs {
		s.domains[def.Domain] = def
		checksumParts = append(checksumParts, def.Checksum)
		for _, t := range def.Tables {
			s.tables[t.ID] = Entry{Domain: def.Domain, Table: t}
		}
	}

	s.order = make([]string, 0, len(s.tables))
	for id := range s.tables {
		s.order = append(s.order, id)
	}
	sort.Strings(s.order)

	sort.Strings(checksumParts)
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(checksumParts, ":"))))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetDomain returns a domain definition.
func (r *Registry) GetDomain(domain string) (model.DomainDefinition, bool) {
	d, ok := r.current().domains[domain]
	return d, ok
}

// GetTable returns a table definition and its domain.
func (r *Registry) GetTable(id string) (Entry, bool) {
	e, ok := r.current().tables[id]
	return e, ok
}

// AllTables returns every table ordered by ID.
func (r *Registry) AllTables() []Entry {
	s := r.current()
	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tables[id])
	}
	return out
}

// AllDomains returns all domain definitions ordered by name.
func (r *Registry) AllDomains() []model.DomainDefinition {
	s := r.current()
	defs := make([]model.DomainDefinition, 0, len(s.domains))
	for _, d := range s.domains {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Domain < defs[j].Domain })
	return defs
}

// Len returns the number of tables.
func (r *Registry) Len() int {
	return len(r.current().tables)
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
