package wire

// Network defaults shared by renderers and viewers
const (
	DefaultPort = 9201
	DefaultHost = "127.0.0.1"

	// EnvPort overrides the port on both sides
	EnvPort = "ATON_PORT"
	// EnvHost overrides the host renderers connect to
	EnvHost = "ATON_HOST"
)
