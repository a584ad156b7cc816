package cozykost

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/totegamma/cozykost/internal/utils"
)

type CollectionName string

const (
	Favorites CollectionName = "favorites"
	Saved     CollectionName = "saved"
)

func (n CollectionName) Valid() bool {
	return n == Favorites || n == Saved
}

const (
	EventTypeSnapshot = "snapshot"
	EventTypeError    = "error"
)

// Item is one listing a user has interacted with.
type Item struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Location  string `json:"location"`
	Price     int64  `json:"price"`
	Image     string `json:"image"`
	Timestamp int64  `json:"timestamp"`
}

// Items maps item id to item. It encodes in timestamp order.
type Items map[string]Item

func (items Items) Clone() Items {
	out := make(Items, len(items))
	for k, v := range items {
		out[k] = v
	}
	return out
}

// Ordered returns the items sorted by timestamp, oldest first.
func (items Items) Ordered() []Item {
	om := make(utils.OrderedKVMap[Item], len(items))
	for k, v := range items {
		om[k] = utils.OrderedKV[Item]{Value: v, Order: v.Timestamp}
	}
	return om.Values()
}

func (items Items) MarshalJSON() ([]byte, error) {
	om := make(utils.OrderedKVMap[Item], len(items))
	for k, v := range items {
		om[k] = utils.OrderedKV[Item]{Value: v, Order: v.Timestamp}
	}
	return json.Marshal(om)
}

func (items *Items) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*items = Items{}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(Items, len(raw))
	for key, value := range raw {
		trimmed := bytes.TrimSpace(value)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			// saved/{id} used to hold a bare `true`
			out[key] = Item{ID: key}
			continue
		}
		var item Item
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return err
		}
		if item.ID == "" {
			item.ID = key
		}
		out[key] = item
	}
	*items = out
	return nil
}

// Snapshot is the full value stored at a path.
type Snapshot struct {
	Path     string          `json:"path"`
	Value    json.RawMessage `json:"value,omitempty"`
	Revision int64           `json:"revision"`
}

func (s Snapshot) Exists() bool {
	v := bytes.TrimSpace(s.Value)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

// Items decodes the snapshot value as a collection. An absent value is an empty collection.
func (s Snapshot) Items() (Items, error) {
	if !s.Exists() {
		return Items{}, nil
	}
	var items Items
	if err := json.Unmarshal(s.Value, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Event is a realtime frame pushed to listeners.
type Event struct {
	Type     string    `json:"type"`
	Path     string    `json:"path,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
}

type Kost struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Location    string `json:"location"`
	Price       int64  `json:"price"`
	Image       string `json:"image"`
	Description string `json:"description,omitempty"`
}

// AsItem converts the listing into a collection record stamped at t.
func (k Kost) AsItem(t time.Time) Item {
	return Item{
		ID:        k.ID,
		Name:      k.Name,
		Location:  k.Location,
		Price:     k.Price,
		Image:     k.Image,
		Timestamp: t.UnixMilli(),
	}
}

type Settings struct {
	EmailNotification bool `json:"emailNotification"`
	ChatNotification  bool `json:"chatNotification"`
}

type Profile struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	Gender         string    `json:"gender"`
	BirthDate      string    `json:"birthDate"`
	City           string    `json:"city"`
	Status         string    `json:"status"`
	Education      string    `json:"education"`
	EmergencyPhone string    `json:"emergencyPhone"`
	ProfileImage   *string   `json:"profileImage"`
	Settings       Settings  `json:"settings"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ProfilePatch carries the editable profile fields. Nil fields are left untouched.
type ProfilePatch struct {
	Name           *string   `json:"name,omitempty"`
	Phone          *string   `json:"phone,omitempty"`
	Gender         *string   `json:"gender,omitempty"`
	BirthDate      *string   `json:"birthDate,omitempty"`
	City           *string   `json:"city,omitempty"`
	Status         *string   `json:"status,omitempty"`
	Education      *string   `json:"education,omitempty"`
	EmergencyPhone *string   `json:"emergencyPhone,omitempty"`
	ProfileImage   *string   `json:"profileImage,omitempty"`
	Settings       *Settings `json:"settings,omitempty"`
}

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type WellKnownCozykost struct {
	Version   string            `json:"version"`
	Domain    string            `json:"domain"`
	SignerID  string            `json:"signerId"`
	Endpoints map[string]string `json:"endpoints"`
}
