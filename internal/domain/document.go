package domain

import "github.com/totegamma/cozykost"

// CollectionRef addresses one user collection.
type CollectionRef struct {
	Owner string
	Name  cozykost.CollectionName
}

func (r CollectionRef) Path() string {
	return cozykost.CollectionPath(r.Owner, r.Name)
}

// WriteResult is the outcome of a single item write.
type WriteResult struct {
	Snapshot cozykost.Snapshot
	// Changed is false when the write left the collection as it was.
	Changed bool
}
