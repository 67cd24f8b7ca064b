package driver

// Terminator ends a process and everything it spawned. One implementation
// exists per platform family, chosen at build time; callers never branch on
// the OS themselves.
type Terminator interface {
	// Name identifies the strategy in logs.
	Name() string
	// Terminate asks the process tree to exit. It does not wait.
	Terminate(pid int) error
	// Kill forcibly ends the process tree. It does not wait.
	Kill(pid int) error
}

// DefaultTerminator returns the strategy for the current platform.
func DefaultTerminator() Terminator {
	return platformTerminator()
}
