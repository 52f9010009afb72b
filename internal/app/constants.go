package app

const (
	Name           = "btrover"
	SourceURL      = "https://git.skobk.in/skobkin/btrover"
	ConfigFilename = "config.json"
	DBFilename     = "telemetry.db"
	LogFilename    = "btrover.log"

	WriterQueueCapacity = 256
	DefaultHistoryLimit = 20
)
