package ingress

import (
	"encoding/json"
	"net/http"
)

// Envelope codes.
const (
	CodeSuccess       = 200
	CodeBadRequest    = 400
	CodeNotRegistered = 404
	CodeServerError   = 500
	CodeInvalidParams = 11200
	CodeHandlerError  = 11999
)

// Envelope messages.
const (
	MsgSuccess       = "Success"
	MsgNotRegistered = "Handler not registered"
	MsgIllegalInput  = "Illegal Input"
	MsgInvalidParams = "Invalid parameters"
)

// Reply is the response envelope. A handler returning a Reply has it sent
// unchanged; anything else is wrapped as the data of a success reply.
type Reply struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

// emptyData serialises as {}.
func emptyData() map[string]any { return map[string]any{} }

// Fail builds a non-success reply with empty data.
func Fail(code int, msg string) Reply {
	return Reply{Code: code, Msg: msg, Data: emptyData()}
}

// envelope applies the handler return contract.
func envelope(result any) Reply {
	switch v := result.(type) {
	case Reply:
		if v.Data == nil {
			v.Data = emptyData()
		}
		return v
	case *Reply:
		if v == nil {
			return Reply{Code: CodeSuccess, Msg: MsgSuccess, Data: emptyData()}
		}
		return envelope(*v)
	case map[string]any:
		if code, ok := v["code"]; ok {
			if msg, ok := v["msg"]; ok {
				return passthrough(code, msg, v["data"])
			}
		}
	}

	if result == nil {
		result = emptyData()
	}
	return Reply{Code: CodeSuccess, Msg: MsgSuccess, Data: result}
}

// passthrough converts an explicit code/msg map into a Reply.
func passthrough(code, msg, data any) Reply {
	r := Reply{Data: data}
	switch c := code.(type) {
	case int:
		r.Code = c
	case float64:
		r.Code = int(c)
	case json.Number:
		if n, err := c.Int64(); err == nil {
			r.Code = int(n)
		}
	}
	if s, ok := msg.(string); ok {
		r.Msg = s
	}
	if r.Data == nil {
		r.Data = emptyData()
	}
	return r
}

func writeReply(w http.ResponseWriter, reply Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; device may have gone away
	json.NewEncoder(w).Encode(reply)
}
