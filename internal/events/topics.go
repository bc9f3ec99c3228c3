package events

const (
	TopicConnStatus       = "conn.status"
	TopicMessageIn        = "message.in"
	TopicMessageStatus    = "message.status"
	TopicNodeUpdated      = "node.updated"
	TopicTracerouteResult = "traceroute.result"
	TopicConfigCaptured   = "config.captured"
	TopicRawFrameIn       = "raw.frame.in"
	TopicRawFrameOut      = "raw.frame.out"
)
