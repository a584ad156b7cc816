package domain

// KostQuery filters the catalog feed.
type KostQuery struct {
	Location string
	MaxPrice int64
	Limit    int
}
