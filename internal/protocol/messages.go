package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	AgentName       string            `json:"agent_name"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	HealthEvents bool `json:"health_events,omitempty"`
	MaxQueue     int  `json:"max_queue,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	AgentID         string      `json:"agent_id"`
	ResumeToken     string      `json:"resume_token"`
	WorldParams     WorldParams `json:"world_params"`
	CatalogDigest   string      `json:"catalog_digest,omitempty"`
}

type WorldParams struct {
	TickRateHz int `json:"tick_rate_hz"`
	MinY       int `json:"min_y"`
	MaxY       int `json:"max_y"`
}

// CATALOG (server -> client): the material/tool/mob tables the agent should
// use instead of its built-in defaults. Sent once after WELCOME.
type CatalogMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Name            string          `json:"name"`
	Digest          string          `json:"digest"`
	Data            json.RawMessage `json:"data"`
}

// CALL (client -> server): one world primitive. Every CALL is answered by
// exactly one RESULT carrying the same ID.
type CallMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              string          `json:"id"`
	Op              string          `json:"op"`
	Args            json.RawMessage `json:"args,omitempty"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	ID              string          `json:"id"`
	OK              bool            `json:"ok"`
	Code            string          `json:"code,omitempty"`
	Message         string          `json:"message,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// STOP (client -> server): reset the active navigation goal. Idempotent.
type StopMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// EVENT (server -> client)
type EventMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Event           string  `json:"event"` // "HEALTH"
	Tick            uint64  `json:"tick"`
	Health          float64 `json:"health"`
	Delta           float64 `json:"delta"`
}

const EventHealth = "HEALTH"
