package cozykost

import (
	"fmt"
	"strings"
)

const pathRoot = "users"

// Path is a parsed document store path.
// Collection and ItemID are empty for a profile path.
type Path struct {
	Owner      string
	Collection CollectionName
	ItemID     string
}

func (p Path) IsProfile() bool {
	return p.Collection == ""
}

func (p Path) IsItem() bool {
	return p.ItemID != ""
}

func (p Path) String() string {
	switch {
	case p.IsProfile():
		return ProfilePath(p.Owner)
	case p.IsItem():
		return ItemPath(p.Owner, p.Collection, p.ItemID)
	default:
		return CollectionPath(p.Owner, p.Collection)
	}
}

func ProfilePath(owner string) string {
	return pathRoot + "/" + owner
}

func CollectionPath(owner string, name CollectionName) string {
	return pathRoot + "/" + owner + "/" + string(name)
}

func ItemPath(owner string, name CollectionName, id string) string {
	return CollectionPath(owner, name) + "/" + id
}

// ParsePath accepts users/{owner}, users/{owner}/{collection} and users/{owner}/{collection}/{id}.
func ParsePath(path string) (Path, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 || len(segments) > 4 || segments[0] != pathRoot {
		return Path{}, fmt.Errorf("invalid path %q", path)
	}
	for _, s := range segments {
		if s == "" {
			return Path{}, fmt.Errorf("invalid path %q", path)
		}
	}

	p := Path{Owner: segments[1]}
	if len(segments) >= 3 {
		name := CollectionName(segments[2])
		if !name.Valid() {
			return Path{}, fmt.Errorf("unknown collection %q", segments[2])
		}
		p.Collection = name
	}
	if len(segments) == 4 {
		p.ItemID = segments[3]
	}
	return p, nil
}

func hasChar(s string, c byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return true
		}
	}
	return false
}

// ValidItemID reports whether id can be used as the last segment of an item path.
func ValidItemID(id string) bool {
	return id != "" && !hasChar(id, '/')
}

// IsSignerID reports whether id looks like a bech32 signer address with our prefix.
func IsSignerID(id string) bool {
	return len(id) > len(SignerPrefix)+1 &&
		strings.HasPrefix(id, SignerPrefix+"1") &&
		!hasChar(id, '.') &&
		!hasChar(id, '/')
}

// SignalChannel is the pub/sub channel carrying change events for path.
func SignalChannel(path string) string {
	return "cozykost:" + path
}
