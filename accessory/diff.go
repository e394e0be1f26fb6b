package accessory

// Delta is one changed characteristic value.
type Delta struct {
	Identity       string `json:"identity"`
	Type           string `json:"type"`
	Characteristic string `json:"characteristic"`
	Value          Value  `json:"value"`
}

// Diff compares next against prev, characteristic by characteristic. A
// characteristic is changed when prev has no entry for it or its value is
// not strictly equal.
func Diff(prev map[string]*Accessory, next []Accessory) []Delta {
	var deltas []Delta

	for i := range next {
		acc := &next[i]
		old := prev[acc.Identity]

		for _, c := range acc.Characteristics {
			if old != nil {
				if oc, ok := old.Characteristic(c.Type); ok && oc.Value.Equal(c.Value) {
					continue
				}
			}
			deltas = append(deltas, Delta{
				Identity:       acc.Identity,
				Type:           acc.Type,
				Characteristic: c.Type,
				Value:          c.Value,
			})
		}
	}

	return deltas
}
