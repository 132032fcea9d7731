package intake

import (
	"strings"

	"github.com/your-org/voxrelay/pkg/media"
)

// Commands understood by Dispatch.
const (
	CommandStart = "start"
	CommandHelp  = "help"
	CommandAuth  = "auth"
)

// Message is one inbound event from the messaging front end.
type Message struct {
	UserID int64
	ChatID int64
	// Command is the bot command without the leading slash, empty for
	// ordinary messages.
	Command string
	Args    []string
	Voice   *Attachment
}

// Attachment references a voice recording held by the upstream transport.
type Attachment struct {
	FileID   string
	UniqueID string
	MimeType string
	Size     int64
	Duration int
}

// ArtifactID derives the artifact name from the attachment's stable unique
// id, falling back to the transport file id.
func (a *Attachment) ArtifactID() (media.ArtifactID, error) {
	raw := strings.TrimSpace(a.UniqueID)
	if raw == "" {
		raw = a.FileID
	}
	return media.ParseArtifactID(raw)
}

// Replies sent back to the submitter.
const (
	ReplyGreeting          = "Send me a voice message and I will give you a playable MP3 link! Authorize first with /auth <password>."
	ReplyNoVoice           = "No voice detected!"
	ReplyNotAuthorized     = "You are not authorized yet. Send /auth <password> first."
	ReplyAuthUsage         = "Usage: /auth <password>"
	ReplyWrongPassword     = "Wrong password."
	ReplyAuthorized        = "Authorization successful. You can now send voice messages."
	ReplyAlreadyAuthorized = "You are already authorized."
	ReplyUnavailable       = "Authorization is temporarily unavailable, please try again later."
	ReplyConversionFailed  = "Sorry, I could not convert that voice message."
	replyReadyFormat       = "Your MP3 is ready: %s"
)
