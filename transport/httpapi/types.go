package httpapi

// RespondBody is the JSON body of POST /respond. Unknown meta fields are
// kept and ignored by the engine.
type RespondBody struct {
	Token   string         `json:"token" binding:"required"`
	RoundID string         `json:"round_id" binding:"required,len=16,hexadecimal"`
	Answer  string         `json:"answer"`
	Meta    map[string]any `json:"meta"`
}

// ErrorResponse is returned for transport-level failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
