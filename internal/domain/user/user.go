package user

import "time"

// User is a directory entry and identity record. The password hash never
// leaves the identity layer.
type User struct {
	ID           int64     `json:"id" bson:"_id"`
	Name         string    `json:"name" bson:"name"`
	Email        string    `json:"email" bson:"email"`
	AvatarURL    string    `json:"avatar_url,omitempty" bson:"avatar_url,omitempty"`
	PasswordHash string    `json:"-" bson:"password_hash"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// Public strips credentials for API responses. Online is filled in by the
// directory query from the presence cache, never stored.
type Public struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Online    bool   `json:"online"`
}

// AsPublic converts a user to its public projection.
func (u User) AsPublic() Public {
	return Public{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
}
