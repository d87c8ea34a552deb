package domain

import "time"

type MediaType string

const (
	MediaPhoto MediaType = "PHOTO"
	MediaVideo MediaType = "VIDEO"
)

func (t MediaType) Valid() bool {
	return t == MediaPhoto || t == MediaVideo
}

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CoverImage  string    `json:"coverImage,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Gallery struct {
	ID          string    `json:"id"`
	CategoryID  string    `json:"categoryId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CoverImage  string    `json:"coverImage,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MediaItem is the display form of a stored media record. DisplayRef is only
// valid while the item is live in the MediaService that minted it.
type MediaItem struct {
	ID         string    `json:"id"`
	GalleryID  string    `json:"galleryId"`
	Type       MediaType `json:"type"`
	FileName   string    `json:"fileName"`
	CreatedAt  time.Time `json:"createdAt"`
	DisplayRef string    `json:"displayRef"`
	Payload    []byte    `json:"-"`
}
