package models

// Report is the union of units affected by a change batch, returned to the
// caller for downstream reporting and auditing.
type Report struct {
	CreatedDistricts   []string `json:"created_districts,omitempty"`
	AbolishedDistricts []string `json:"abolished_districts,omitempty"`
	BoundaryChanged    []string `json:"boundary_changed,omitempty"`
	ChangedRegions     []string `json:"changed_regions,omitempty"`
}

func (r *Report) addCreated(name string)   { r.CreatedDistricts = appendUnique(r.CreatedDistricts, name) }
func (r *Report) addAbolished(name string) { r.AbolishedDistricts = appendUnique(r.AbolishedDistricts, name) }
func (r *Report) addBoundary(name string)  { r.BoundaryChanged = appendUnique(r.BoundaryChanged, name) }
func (r *Report) addRegion(name string)    { r.ChangedRegions = appendUnique(r.ChangedRegions, name) }

func appendUnique(list []string, name string) []string {
	for _, existing := range list {
		if existing == name {
			return list
		}
	}
	return append(list, name)
}
