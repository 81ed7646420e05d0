package engine

// Seeds identifies a provably-fair seed pair. The server seed is kept as the
// ASCII string Stake displays; it is used verbatim as the HMAC key.
type Seeds struct {
	Server string `json:"server_seed"`
	Client string `json:"client_seed"`
}
