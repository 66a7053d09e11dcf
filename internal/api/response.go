package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/automata-ecs/internal/launcher"
	"github.com/shaiso/automata-ecs/internal/repo"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeAlreadyLinked ErrorCode = "ALREADY_LINKED"
	ErrCodeLaunchFailed  ErrorCode = "LAUNCH_FAILED"
	ErrCodeOrchestrator  ErrorCode = "ORCHESTRATOR_ERROR"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — структура ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — структура успешного ответа.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — структура ответа со списком.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// JSON отправляет JSON ответ.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Success отправляет успешный ответ с данными.
func Success(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, DataResponse{Data: data})
}

// Created отправляет ответ о создании ресурса.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, DataResponse{Data: data})
}

// Accepted отправляет 202: запрос поставлен в очередь.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, DataResponse{Data: data})
}

// List отправляет ответ со списком.
func List(w http.ResponseWriter, data any, total int) {
	JSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	JSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest отправляет ошибку 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound отправляет ошибку 404.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict отправляет ошибку 409.
func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, ErrCodeConflict, message)
}

// InternalError отправляет ошибку 500.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// HandleRepoError преобразует ошибку репозитория в HTTP ответ.
// Возвращает false, если err == nil.
func HandleRepoError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, repo.ErrNotFound):
		NotFound(w, notFoundMsg)
	case errors.Is(err, repo.ErrAlreadyExists), errors.Is(err, repo.ErrConflict):
		Conflict(w, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}

// HandleLauncherError преобразует ошибку launcher в HTTP ответ.
//
// Ошибки ECS проверяются первыми: неизвестная базовая definition
// одновременно ErrNotFound и ErrLaunch и отдаётся как 502.
func HandleLauncherError(w http.ResponseWriter, logger *slog.Logger, err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, launcher.ErrLaunch):
		logger.Warn("launch failed", "error", err)
		Error(w, http.StatusBadGateway, ErrCodeLaunchFailed, err.Error())
	case errors.Is(err, launcher.ErrOrchestrator):
		logger.Warn("orchestrator error", "error", err)
		Error(w, http.StatusBadGateway, ErrCodeOrchestrator, err.Error())
	case errors.Is(err, launcher.ErrRunNotFound):
		NotFound(w, "run not found")
	case errors.Is(err, launcher.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, launcher.ErrAlreadyLinked):
		Error(w, http.StatusConflict, ErrCodeAlreadyLinked, err.Error())
	case errors.Is(err, launcher.ErrInvalidArgument):
		BadRequest(w, err.Error())
	default:
		InternalError(w, logger, err)
	}
	return true
}
