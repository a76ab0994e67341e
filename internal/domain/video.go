package domain

// Video is the caller-supplied descriptor for one manifest entry. It is
// immutable once the job has been created.
type Video struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	SourceRef         string   `json:"source_ref"`
	ThumbnailRef      string   `json:"thumbnail_ref,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	CategoryID        string   `json:"category_id"`
	RestrictedForKids bool     `json:"made_for_kids"`
}

// VideoStatus is the platform-side view of an uploaded video, as returned by
// the publishing client's status and listing calls.
type VideoStatus struct {
	VideoID    string `json:"video_id"`
	Title      string `json:"title"`
	Visibility string `json:"visibility"`
	PublishAt  string `json:"publish_at,omitempty"`
}
