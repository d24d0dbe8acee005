package protocol

// SUBSCRIBE (client -> server). First message on the connection; may be re-sent to change the
// frame cadence. Compression is fixed at handshake.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	EveryTicks      int    `json:"every_ticks,omitempty"`
	Compress        string `json:"compress,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Palette         []string    `json:"palette"`
	Encoding        string      `json:"encoding"`
	Compress        string      `json:"compress,omitempty"`
}

type WorldParams struct {
	TickRateHz int    `json:"tick_rate_hz"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Seed       int64  `json:"seed"`
	Agents     int    `json:"agents"`
	TieBreak   string `json:"tie_break"`
	Vertical   string `json:"vertical_policy"`
}

// FRAME (server -> client). Cells is the whole field, row-major, in Encoding.
type FrameMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	Width           int          `json:"width"`
	Height          int          `json:"height"`
	Encoding        string       `json:"encoding"`
	Cells           string       `json:"cells"`
	Agents          []AgentState `json:"agents"`
}

type AgentState struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	VY  float64 `json:"vy"`
	Dir string  `json:"dir"`
	Job string  `json:"job"`
}

// PAINT (client -> server). Paints the square of side 2*Radius+1 centred on (X, Y). A nil
// Radius means the server default.
type PaintMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	Radius          *int   `json:"radius,omitempty"`
	Material        string `json:"material"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
