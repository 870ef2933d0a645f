package constants

import "time"

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)

const (
	// Subprotocol is negotiated on every WebSocket connection.
	// Frames are binary CBOR envelopes.
	Subprotocol = "cbor"

	// WSPath is where the relay accepts WebSocket upgrades.
	WSPath = "/ws"

	CloseMessageCode = 1000

	RoomIDLength = 6

	DefaultLanguage = "javascript"
	DefaultCode     = "// Welcome to CodeSynq!\n// Start coding here...\n\nconsole.log(\"Hello, World!\");"
)

// Timings observed in the browser client. All of them are overridable
// through session.Config or the YAML config.
const (
	DefaultEchoWindow        = 100 * time.Millisecond
	DefaultCursorTTL         = 3 * time.Second
	DefaultJoinRetryDelay    = 1 * time.Second
	DefaultJoinMaxRetries    = 30
	DefaultConnectTimeout    = 10 * time.Second
	DefaultCreateTimeout     = 10 * time.Second
	DefaultReconnectInterval = 5 * time.Second
	DefaultResyncInterval    = 30 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
)
