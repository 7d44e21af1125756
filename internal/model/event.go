package model

// EventKind discriminates ChangeEvent.
type EventKind string

const (
	EventProfileChanged EventKind = "profile_changed"
	EventNewContent     EventKind = "new_content"
	EventLiveStarted    EventKind = "live_started"
	EventLiveEnded      EventKind = "live_ended"
)

// ProfileField names a watched profile attribute.
type ProfileField string

const (
	FieldNickname  ProfileField = "nickname"
	FieldSignature ProfileField = "signature"
	FieldAvatar    ProfileField = "avatar"
	FieldCover     ProfileField = "cover"
)

type ProfileChange struct {
	Field    ProfileField
	OldValue string
	NewValue string
	UID      string
}

// ChangeEvent is one detected delta. Exactly one of Profile, Content or Live
// is set, matching Kind (LiveEnded carries the previous Live state).
type ChangeEvent struct {
	Kind     EventKind
	Provider Provider
	Profile  *ProfileChange
	Content  *ContentItem
	Live     *LiveState
}

// TimestampUnix returns the content/occurrence time in milliseconds, or 0 for
// events that are not time sensitive.
func (e ChangeEvent) TimestampUnix() int64 {
	switch e.Kind {
	case EventNewContent:
		if e.Content != nil {
			return e.Content.TimestampUnix
		}
	case EventLiveStarted:
		if e.Live != nil {
			return e.Live.StartedAtUnix
		}
	}
	return 0
}

// Message is the rendered notification handed to dispatchers.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"description"`
	URL   string `json:"url"`
}
