package accessory

import (
	"github.com/Aaron-Gardien/homebridge-rti-proxy/hubproto"
)

// PermWrite is the permission flag that makes a characteristic writable.
const PermWrite = "pw"

// Accessory is the canonical form of one hub accessory.
type Accessory struct {
	Identity        string           `json:"identity"`
	UniqueID        string           `json:"uniqueId,omitempty"`
	AID             *int             `json:"aid,omitempty"`
	IID             *int             `json:"iid,omitempty"`
	Type            string           `json:"type"`
	HumanType       string           `json:"humanType,omitempty"`
	ServiceName     string           `json:"serviceName,omitempty"`
	Characteristics []Characteristic `json:"characteristics"`
}

// Characteristic is one property of an accessory.
type Characteristic struct {
	Type        string   `json:"type"`
	AID         *int     `json:"aid,omitempty"`
	IID         *int     `json:"iid,omitempty"`
	Value       Value    `json:"value"`
	Format      Format   `json:"format,omitempty"`
	Perms       []string `json:"perms,omitempty"`
	CanWrite    *bool    `json:"canWrite,omitempty"`
	Min         *float64 `json:"minValue,omitempty"`
	Max         *float64 `json:"maxValue,omitempty"`
	Step        *float64 `json:"minStep,omitempty"`
	Unit        string   `json:"unit,omitempty"`
	Description string   `json:"description,omitempty"`
	ServiceName string   `json:"serviceName,omitempty"`
}

// Writable reports whether the hub accepts writes to c.
func (c Characteristic) Writable() bool {
	if c.CanWrite != nil && *c.CanWrite {
		return true
	}
	for _, p := range c.Perms {
		if p == PermWrite {
			return true
		}
	}
	return false
}

// Addressable reports whether c carries the ids a write needs.
func (c Characteristic) Addressable() bool {
	return c.AID != nil && c.IID != nil
}

// Characteristic returns the first characteristic of type name.
func (a *Accessory) Characteristic(name string) (*Characteristic, bool) {
	for i := range a.Characteristics {
		if a.Characteristics[i].Type == name {
			return &a.Characteristics[i], true
		}
	}
	return nil, false
}

// clone deep-copies a so views never share slices with the live snapshot.
func (a *Accessory) clone() Accessory {
	out := *a
	out.Characteristics = make([]Characteristic, len(a.Characteristics))
	for i, c := range a.Characteristics {
		c.Perms = append([]string(nil), c.Perms...)
		out.Characteristics[i] = c
	}
	return out
}

// fromWire converts a decoded hub accessory. Characteristics whose value
// cannot be represented in their declared format keep an absent value and
// are counted in bad.
func fromWire(identity string, w hubproto.Accessory) (acc Accessory, bad int) {
	acc = Accessory{
		Identity:        identity,
		AID:             w.AID,
		IID:             w.IID,
		Type:            w.Type,
		HumanType:       w.HumanType,
		ServiceName:     w.ServiceName,
		Characteristics: make([]Characteristic, 0, len(w.Characteristics)),
	}
	if w.UniqueID != nil {
		acc.UniqueID = *w.UniqueID
	}

	for _, wc := range w.Characteristics {
		if wc.Type == "" {
			bad++
			continue
		}

		c := Characteristic{
			Type:        wc.Type,
			AID:         wc.AID,
			IID:         wc.IID,
			Format:      Format(wc.Format),
			Perms:       wc.Perms,
			CanWrite:    wc.CanWrite,
			Min:         wc.MinValue,
			Max:         wc.MaxValue,
			Step:        wc.MinStep,
			Description: wc.Description,
			ServiceName: wc.ServiceName,
		}
		if c.AID == nil {
			c.AID = w.AID
		}
		if wc.Unit != nil {
			c.Unit = *wc.Unit
		}

		if wc.HasValue() {
			v, err := DecodeValue(wc.Value, c.Format)
			if err != nil {
				bad++
			} else {
				c.Value = v
			}
		}

		acc.Characteristics = append(acc.Characteristics, c)
	}

	return acc, bad
}

// mergeInto overlays the characteristics of update onto a copy of existing.
// Characteristics missing from update are kept, and so are values missing
// from an updated characteristic.
func mergeInto(existing *Accessory, update Accessory) Accessory {
	merged := existing.clone()
	merged.UniqueID = update.UniqueID
	if update.AID != nil {
		merged.AID = update.AID
	}
	if update.IID != nil {
		merged.IID = update.IID
	}
	if update.Type != "" {
		merged.Type = update.Type
	}
	if update.HumanType != "" {
		merged.HumanType = update.HumanType
	}
	if update.ServiceName != "" {
		merged.ServiceName = update.ServiceName
	}

	for _, c := range update.Characteristics {
		if slot, ok := merged.Characteristic(c.Type); ok {
			// A missing value never erases a known one.
			if c.Value.IsAbsent() {
				c.Value = slot.Value
			}
			*slot = c
			continue
		}
		merged.Characteristics = append(merged.Characteristics, c)
	}
	return merged
}
