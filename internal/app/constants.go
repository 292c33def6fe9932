package app

const (
	Name           = "nctalk"
	SourceURL      = "https://git.skobk.in/skobkin/nctalk"
	ConfigFilename = "config.json"
	DBFilename     = "history.db"
	LogFilename    = "app.log"
	EnvFilename    = ".env"
	AvatarsDir     = "avatars"
	UserAgent      = Name + "/"
)
