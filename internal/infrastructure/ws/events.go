package ws

// Inbound events.
const (
	JoinRoom              = "joinRoom"
	LeaveRoom             = "leaveRoom"
	ChatMessage           = "chatMessage"
	Message               = "message"
	MessageReactionUpdate = "messageReactionUpdate"
	FetchPreviousMessages = "fetchPreviousMessages"
	AIMessage             = "aiMessage"
	TypingStart           = "typing_start"
	TypingStop            = "typing_stop"
	MarkAsRead            = "mark_as_read"
)

// Outbound events. Message and MessageReactionUpdate are also emitted.
const (
	NewMessage             = "new_message"
	UserJoined             = "user_joined"
	UserLeft               = "user_left"
	UserTyping             = "user_typing"
	UserStopTyping         = "user_stop_typing"
	JoinRoomSuccess        = "joinRoomSuccess"
	JoinRoomError          = "joinRoomError"
	NewNotification        = "new_notification"
	PreviousMessagesLoaded = "previousMessagesLoaded"
	AIMessageStart         = "aiMessageStart"
	AIMessageChunk         = "aiMessageChunk"
	AIMessageComplete      = "aiMessageComplete"
	AIMessageError         = "aiMessageError"
	MessageRead            = "message_read"
	ErrorEvent             = "error"
)

// Error types carried by ErrorEvent.
const (
	MessageError      = "MESSAGE_ERROR"
	ReactionError     = "REACTION_ERROR"
	LeaveRoomError    = "LEAVE_ROOM_ERROR"
	LoadMessagesError = "LOAD_MESSAGES_ERROR"
	AIMessageErrType  = "AI_MESSAGE_ERROR"
	MarkAsReadError   = "MARK_AS_READ_ERROR"
	InvalidEvent      = "INVALID_EVENT"
)
