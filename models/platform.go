package models

import "time"

// PlatformAttachment is one attachment reference as fetched from the
// chat platform.
type PlatformAttachment struct {
	ID       string
	Filename string
	Size     int64
	URL      string
}

// PlatformMessage is one message as fetched from the chat platform,
// reduced to the fields the pipeline needs.
type PlatformMessage struct {
	ID          string
	AuthorID    string
	AuthorName  string
	Content     string
	Timestamp   time.Time
	Attachments []PlatformAttachment
}
