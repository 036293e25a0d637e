package config

const (
	// MaxTitleLength bounds conversation titles sent to the service.
	MaxTitleLength = 255

	// MaxMessageLength bounds a single outbound message.
	MaxMessageLength = 8000

	// MaxAttachmentChars caps text imported from a document into the draft,
	// keeping it under MaxMessageLength with room for a question.
	MaxAttachmentChars = 6000
)
