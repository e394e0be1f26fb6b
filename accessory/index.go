package accessory

// IndexEntry is the write metadata of one characteristic.
type IndexEntry struct {
	Identity       string
	Characteristic string
	AID            int
	IID            int
	Addressable    bool
	Format         Format
	Perms          []string
	Writable       bool
	Min            *float64
	Max            *float64
	Step           *float64
}

// Index maps identity and characteristic type to write metadata. An Index is
// immutable once built.
type Index struct {
	entries map[string]map[string]IndexEntry
}

func buildIndex(accessories []Accessory) *Index {
	ix := &Index{entries: make(map[string]map[string]IndexEntry, len(accessories))}

	for _, acc := range accessories {
		chars := make(map[string]IndexEntry, len(acc.Characteristics))
		for _, c := range acc.Characteristics {
			if _, dup := chars[c.Type]; dup {
				continue
			}
			entry := IndexEntry{
				Identity:       acc.Identity,
				Characteristic: c.Type,
				Addressable:    c.Addressable(),
				Format:         c.Format,
				Perms:          c.Perms,
				Writable:       c.Writable(),
				Min:            c.Min,
				Max:            c.Max,
				Step:           c.Step,
			}
			if entry.Addressable {
				entry.AID = *c.AID
				entry.IID = *c.IID
			}
			chars[c.Type] = entry
		}
		ix.entries[acc.Identity] = chars
	}

	return ix
}

// Has reports whether identity is known.
func (ix *Index) Has(identity string) bool {
	if ix == nil {
		return false
	}
	_, ok := ix.entries[identity]
	return ok
}

// Lookup returns the entry for a characteristic of identity.
func (ix *Index) Lookup(identity, characteristic string) (IndexEntry, bool) {
	if ix == nil {
		return IndexEntry{}, false
	}
	entry, ok := ix.entries[identity][characteristic]
	return entry, ok
}

// Len returns the number of indexed accessories.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}
