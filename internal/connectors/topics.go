package connectors

const (
	TopicSessionStatus = "session.status"
	TopicTelemetry     = "session.telemetry"
	TopicCommandSent   = "session.command"
	TopicSessionError  = "session.error"
)
