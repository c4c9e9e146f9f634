package identity

import "time"

// Profile is the primary identity record, keyed by the principal id issued
// by the auth provider. Username is stored twice: the canonical form is the
// uniqueness key, the display form keeps the casing the user typed.
type Profile struct {
	PrincipalID     string    `bson:"_id" json:"id"`
	Email           string    `bson:"email" json:"email"`
	DisplayName     string    `bson:"display_name" json:"display_name"`
	FirstName       string    `bson:"first_name,omitempty" json:"first_name,omitempty"`
	LastName        string    `bson:"last_name,omitempty" json:"last_name,omitempty"`
	Username        string    `bson:"username" json:"username"`
	DisplayUsername string    `bson:"display_username" json:"display_username"`
	Bio             string    `bson:"bio,omitempty" json:"bio,omitempty"`
	HomeCourseID    string    `bson:"home_course_id,omitempty" json:"home_course_id,omitempty"`
	HomeCourseName  string    `bson:"home_course_name,omitempty" json:"home_course_name,omitempty"`
	AvatarURL       string    `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updated_at"`
}

// IndexEntry maps a canonical username to its owning principal. Exactly one
// live entry exists per registered username; the entry's key doubles as the
// uniqueness constraint the backing store doesn't natively provide.
type IndexEntry struct {
	Username    string    `bson:"_id"`
	PrincipalID string    `bson:"principal_id"`
	CreatedAt   time.Time `bson:"created_at"`
}

// Field names a clearable optional profile field.
type Field string

const (
	FieldBio        Field = "bio"
	FieldHomeCourse Field = "home_course"
	FieldAvatarURL  Field = "avatar_url"
)

// ProfilePatch is a typed partial update: nil pointers leave a field alone,
// non-nil pointers set it, and Clear lists optional fields to remove.
// The store adapter translates this into whatever the backend needs.
// Username changes never go through a patch; they use RenameUsername so the
// index entry moves atomically with the record.
type ProfilePatch struct {
	DisplayName    *string
	FirstName      *string
	LastName       *string
	Bio            *string
	HomeCourseID   *string
	HomeCourseName *string
	AvatarURL      *string
	Clear          []Field
}

// IsZero reports whether the patch would change nothing.
func (p ProfilePatch) IsZero() bool {
	return p.DisplayName == nil && p.FirstName == nil && p.LastName == nil &&
		p.Bio == nil && p.HomeCourseID == nil && p.HomeCourseName == nil &&
		p.AvatarURL == nil && len(p.Clear) == 0
}
