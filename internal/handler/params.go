package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rle/grps/internal/domain"
)

func userIDParam(r *http.Request) (int64, error) {
	id, err := domain.ParseUserID(chi.URLParam(r, "userId"))
	if err != nil {
		return 0, domain.ErrValidation("invalid user id")
	}
	return id, nil
}

// queryLimit returns 0 when the parameter is absent so the service default applies.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, domain.ErrValidation("limit must be a positive integer")
	}
	return n, nil
}

func boolHeader(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.Header.Get(name))
	switch strings.ToLower(raw) {
	case "":
		return false, nil
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.ErrValidation(name + " must be a boolean")
	}
	return v, nil
}

func optionalUserIDHeader(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.Header.Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := domain.ParseUserID(raw)
	if err != nil {
		return nil, domain.ErrValidation(name + " must be a positive integer")
	}
	return &id, nil
}
