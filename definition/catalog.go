package definition

import (
	"errors"
	"fmt"
	"sort"

	"typed-rpc/message"
)

var (
	ErrDuplicateID   = errors.New("duplicate rpc identifier")
	ErrDuplicateName = errors.New("duplicate rpc name")
)

// Catalog is the closed set of RPCs making up one protocol. It guarantees that
// identifiers and names map one-to-one.
type Catalog struct {
	byID   map[message.ID]Descriptor
	byName map[string]Descriptor
	sorted []Descriptor
}

func NewCatalog(descs ...Descriptor) (*Catalog, error) {
	c := &Catalog{
		byID:   make(map[message.ID]Descriptor, len(descs)),
		byName: make(map[string]Descriptor, len(descs)),
	}
	for _, d := range descs {
		if prev, dup := c.byID[d.ID()]; dup {
			return nil, fmt.Errorf("%w: %d used by %s and %s", ErrDuplicateID, uint32(d.ID()), prev.Name(), d.Name())
		}
		if prev, dup := c.byName[d.Name()]; dup {
			return nil, fmt.Errorf("%w: %q used by %s and %s", ErrDuplicateName, d.Name(), prev.ID(), d.ID())
		}
		c.byID[d.ID()] = d
		c.byName[d.Name()] = d
		c.sorted = append(c.sorted, d)
	}
	sort.Slice(c.sorted, func(i, j int) bool { return c.sorted[i].ID() < c.sorted[j].ID() })
	return c, nil
}

// MustCatalog is like NewCatalog but panics on error. It is meant for package-level
// protocol declarations.
func MustCatalog(descs ...Descriptor) *Catalog {
	c, err := NewCatalog(descs...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) ByID(id message.ID) (Descriptor, bool) {
	d, ok := c.byID[id]
	return d, ok
}

func (c *Catalog) ByName(name string) (Descriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Name returns the registered name of id, or id's numeric form.
func (c *Catalog) Name(id message.ID) string {
	if d, ok := c.byID[id]; ok {
		return d.Name()
	}
	return id.String()
}

// Descriptors returns the catalog's entries ordered by identifier.
func (c *Catalog) Descriptors() []Descriptor {
	out := make([]Descriptor, len(c.sorted))
	copy(out, c.sorted)
	return out
}

func (c *Catalog) Len() int {
	return len(c.sorted)
}
