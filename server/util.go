package server

import (
	"encoding/json"
	"net/http"
)

func createResponse(success bool, data interface{}, errorMsg string) ResponseModel {
	return ResponseModel{
		Success: success,
		Data:    data,
		Error:   errorMsg,
	}
}

// SendResponse writes a 200 JSON envelope
func SendResponse(w http.ResponseWriter, data interface{}) {
	SendResponseWithStatus(w, true, data, "", http.StatusOK)
}

// SendError writes a failed JSON envelope with the given status code
func SendError(w http.ResponseWriter, statusCode int, errorMsg string) {
	SendResponseWithStatus(w, false, nil, errorMsg, statusCode)
}

func SendResponseWithStatus(w http.ResponseWriter, success bool, data interface{}, errorMsg string, statusCode int) {
	response := createResponse(success, data, errorMsg)
	w.Header().Set("Content-Type", "application/json")

	if statusCode == 0 {
		statusCode = http.StatusOK
		if !success {
			statusCode = http.StatusBadRequest
		}
	}
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, `{"success":false,"error":"Internal Server Error"}`, http.StatusInternalServerError)
	}
}
