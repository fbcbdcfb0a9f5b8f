package ui

// Config contains TUI-specific configuration.
type Config struct {
	// Chunks are the segments being read, used for the preview line.
	Chunks []string

	// Title is shown in the header, usually the input source.
	Title string

	MaxWidth    uint
	ShowPreview bool `env:"READALOUD_PREVIEW" envDefault:"true"`
	AltScreen   bool `env:"READALOUD_ALT_SCREEN" envDefault:"false"`
}
