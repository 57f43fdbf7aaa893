// Package httputil contains the shared response envelope used by all
// JSON handlers.
package httputil

// Response is the {ok, data|error} envelope every API route returns.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func OK(data any) Response {
	return Response{OK: true, Data: data}
}

func Err(message string) Response {
	return Response{OK: false, Error: message}
}
