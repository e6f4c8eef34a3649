package models

// Topic is a discussion prompt.
type Topic struct {
	ID          string   `bson:"_id" json:"id"`
	Title       string   `bson:"title" json:"title"`
	Description string   `bson:"description" json:"description"`
	Tags        []string `bson:"tags" json:"tags"`
	Language    string   `bson:"language" json:"language"`
}

// HasTag reports whether the topic carries the given tag.
func (t Topic) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if tg == tag {
			return true
		}
	}
	return false
}
