package events

const (
	TopicRoomJoined  = "room.joined"
	TopicRoomLeft    = "room.left"
	TopicRoomHealth  = "room.health"
	TopicRoomLine    = "room.line"
	TopicRoomCursor  = "room.cursor"
	TopicFocus       = "room.focus"
	TopicTaskFailed  = "task.failed"
	TopicSessionUser = "session.user"
)
