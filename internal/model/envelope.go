package model

// Envelope is the JSON body exchanged by the JSON echo endpoint.
type Envelope struct {
	Message string `json:"message"`
	Error   bool   `json:"error"`
}
