package httpadapter

import (
	"net/http"

	"github.com/vporoshin/chatbot-retrieval/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrTenantRequired):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrSettingsNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
