package domain

// SourceListing is the collaborator's current id set plus call accounting.
type SourceListing struct {
	IDs      []string
	Cost     int64
	Attempts int
}

// IDSet returns the listing as a set.
func (l SourceListing) IDSet() map[string]struct{} {
	set := make(map[string]struct{}, len(l.IDs))
	for _, id := range l.IDs {
		set[id] = struct{}{}
	}
	return set
}

// SourceEntity is one entity as described by the collaborator.
// Duration is an ISO-8601 duration string (e.g. "PT1H2M3S").
type SourceEntity struct {
	ID       string
	Title    string
	Duration string
	Cost     int64
	Attempts int
}
