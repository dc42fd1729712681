package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[http] failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorBody{Error: message})
}

// RespondErrorCode 发送带机器可读错误码的错误响应
func RespondErrorCode(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorBody{Error: message, Code: code})
}

// DecodeJSON 解析请求体，限制大小为 limit 字节
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
