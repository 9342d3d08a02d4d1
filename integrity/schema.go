package integrity

import (
	"fmt"

	"github.com/chronicleproject/chronicle-core/event"
)

// SchemaVersion is the (major, minor, patch) triple stamped into every
// artifact's sidecar, mirroring friggdb's blockMeta.Version string but
// structured so the compatibility rule in spec.md §3 is a simple
// comparison instead of a string parse at every read.
type SchemaVersion struct {
	Major, Minor, Patch int
}

func (v SchemaVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Current is the schema version this build writes.
var Current = SchemaVersion{Major: 1, Minor: 1, Patch: 0}

// IsCompatible implements spec.md §3's reader/artifact rule: a reader of
// version V can read any artifact of the same major with minor <= V.minor.
func IsCompatible(reader, artifact SchemaVersion) bool {
	return reader.Major == artifact.Major && artifact.Minor <= reader.Minor
}

// Migration is a registered edge between two adjacent schema versions.
// Apply must either transform every record or return an error and leave
// records untouched — no partial mutation, per spec.md §4.2.
type Migration struct {
	From, To SchemaVersion
	Apply    func([]*event.EventRecord) ([]*event.EventRecord, error)
}

// Registry holds the directed migration graph and walks adjacent-version
// chains to satisfy arbitrary from/to requests.
type Registry struct {
	edges map[SchemaVersion][]Migration
}

// NewRegistry returns a registry seeded with the built-in migrations this
// module ships: the 1.0.0 -> 1.1.0 edge, exercised by the
// migration-across-versions scenario in spec.md §8. That edge passes
// records through unchanged; event.EventRecord has no metadata field, so
// the migration adds none.
func NewRegistry() *Registry {
	r := &Registry{edges: make(map[SchemaVersion][]Migration)}
	r.Register(Migration{
		From: SchemaVersion{1, 0, 0},
		To:   SchemaVersion{1, 1, 0},
		Apply: func(records []*event.EventRecord) ([]*event.EventRecord, error) {
			// v1.0.0 records are already valid at v1.1.0 once
			// re-stamped; nothing is rewritten or added.
			out := make([]*event.EventRecord, len(records))
			copy(out, records)
			return out, nil
		},
	})
	return r
}

// Register adds a migration edge.
func (r *Registry) Register(m Migration) {
	r.edges[m.From] = append(r.edges[m.From], m)
}

// NoMigrationPath is returned by Migrate when no adjacent-version chain
// connects from and to.
type NoMigrationPath struct {
	From, To SchemaVersion
}

func (e *NoMigrationPath) Error() string {
	return fmt.Sprintf("integrity: no migration path from %s to %s", e.From, e.To)
}

// Migrate walks the registered migration path from 'from' to 'to',
// applying transforms in order. It either succeeds completely or returns
// NoMigrationPath/the first Apply error, leaving the input slice
// untouched.
func (r *Registry) Migrate(records []*event.EventRecord, from, to SchemaVersion) ([]*event.EventRecord, error) {
	if from == to {
		return records, nil
	}

	path := r.findPath(from, to)
	if path == nil {
		return nil, &NoMigrationPath{From: from, To: to}
	}

	cur := records
	for _, m := range path {
		next, err := m.Apply(cur)
		if err != nil {
			return nil, fmt.Errorf("integrity: migration %s->%s: %w", m.From, m.To, err)
		}
		cur = next
	}
	return cur, nil
}

// findPath does a breadth-first search over the migration edge graph; the
// registry is small and rebuilt rarely, so simplicity wins over an
// indexed shortest-path structure.
func (r *Registry) findPath(from, to SchemaVersion) []Migration {
	type frame struct {
		version SchemaVersion
		path    []Migration
	}
	visited := map[SchemaVersion]bool{from: true}
	queue := []frame{{version: from}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, m := range r.edges[cur.version] {
			if visited[m.To] {
				continue
			}
			path := append(append([]Migration{}, cur.path...), m)
			if m.To == to {
				return path
			}
			visited[m.To] = true
			queue = append(queue, frame{version: m.To, path: path})
		}
	}
	return nil
}
