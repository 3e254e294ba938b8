package httpadapter

import (
	"net/http"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrStoreUnavailable),
		domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrOCRTimeout):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrImageDecode),
		domain.IsKind(err, domain.ErrUnsupportedResolution),
		domain.IsKind(err, domain.ErrNoTemplateForResolution),
		domain.IsKind(err, domain.ErrLowConfidence),
		domain.IsKind(err, domain.ErrTooFewPlayers):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
