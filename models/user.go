package models

// User is the identity record. It is owned by the entity store and read-only here.
type User struct {
	ID          string `bson:"_id" json:"id"`
	DisplayName string `bson:"display_name" json:"display_name"`
	Role        string `bson:"role" json:"role"`
}
