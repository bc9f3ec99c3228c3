package app

const (
	Name           = "meshkeeper"
	SourceURL      = "https://github.com/meshkeeper/meshkeeper"
	MeshtasticURL  = "https://meshtastic.org"
	ConfigFilename = "config.json"
	DBFilename     = "meshkeeper.db"
	LogFilename    = "meshkeeper.log"
)
