package log

const (
	// Chat
	FieldRoomID    = "room_id"
	FieldMessageID = "message_id"
	FieldUserID    = "user_id"
	FieldUsername  = "username"
	FieldFrameType = "frame_type"

	// Transport
	FieldState   = "state"
	FieldAttempt = "attempt"
	FieldURL     = "url"

	// REST
	FieldMethod = "method"
	FieldPath   = "path"
	FieldStatus = "status"

	// App
	FieldApp       = "app"
	FieldComponent = "component"
)
