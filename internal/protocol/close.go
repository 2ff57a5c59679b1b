package protocol

// Close codes the room server sends besides the RFC 6455 ones.
const (
	CloseRoomFull     = 4003
	CloseQueueOverrun = 4008
)

// DefaultSender stands in for a member who gave no display name.
const DefaultSender = "Anonymous"
