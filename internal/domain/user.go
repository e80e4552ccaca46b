package domain

import "context"

type User struct {
	ID           string `json:"id" bson:"_id"`
	Name         string `json:"name" bson:"name"`
	Email        string `json:"email" bson:"email"`
	ProfileImage string `json:"profileImage,omitempty" bson:"profile_image,omitempty"`
}

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	// Save upserts the identity confirmed at socket handshake.
	Save(ctx context.Context, user User) error
}

type File struct {
	ID           string `json:"id" bson:"_id"`
	Filename     string `json:"filename" bson:"filename"`
	OriginalName string `json:"originalname" bson:"original_name"`
	MimeType     string `json:"mimetype" bson:"mime_type"`
	Size         int64  `json:"size" bson:"size"`
}

type FileRepository interface {
	GetByID(ctx context.Context, id string) (*File, error)
}
