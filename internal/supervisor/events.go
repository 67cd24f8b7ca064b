package supervisor

// OutputEvent carries one stdout chunk, or one line of install output.
type OutputEvent struct {
	Text string `json:"text"`
}

// Error sources.
const (
	SourceStderr  = "stderr"
	SourceSpawn   = "spawn"
	SourceInstall = "install"
	SourceExit    = "exit"
)

// ErrorEvent carries a stderr chunk or a failure description.
type ErrorEvent struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// ExitEvent is always the last event published for a process.
type ExitEvent struct {
	PID    int    `json:"pid"`
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}
