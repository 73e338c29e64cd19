package pfhttp

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func respondJSON(w http.ResponseWriter, code int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		respondError(w, errors.Wrap(err, "encode response"), http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(body)
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, err error, code int) {
	body, _ := json.Marshal(errorResponse{Error: err.Error()})
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(body)
}

func requestHasContentType(r *http.Request, acceptable ...string) bool {
	have := parseHeaderMediaTypes(r, "content-type")
	for _, want := range acceptable {
		if _, ok := have[want]; ok {
			return true
		}
	}
	return false
}

func requestExplicitlyAccepts(r *http.Request, acceptable ...string) bool {
	have := parseHeaderMediaTypes(r, "accept")
	for _, want := range acceptable {
		if _, ok := have[want]; ok {
			return true
		}
	}
	return false
}

func parseHeaderMediaTypes(r *http.Request, header string) map[string]map[string]string {
	mediaTypes := map[string]map[string]string{} // type: params
	for _, a := range strings.Split(r.Header.Get(header), ",") {
		mediaType, params, err := mime.ParseMediaType(a)
		if err != nil {
			continue
		}
		mediaTypes[mediaType] = params
	}
	return mediaTypes
}

func parseDefault[T any](s string, parse func(string) (T, error), def T) T {
	if v, err := parse(s); err == nil {
		return v
	}
	return def
}

func parseRange[T ~int](s string, parse func(string) (T, error), min, def, max T) T {
	v, err := parse(s)
	switch {
	case err != nil:
		return def
	case v < min:
		return min
	case v > max:
		return max
	default:
		return v
	}
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, errors.New("must be greater than zero")
	}
	return uint32(v), nil
}
