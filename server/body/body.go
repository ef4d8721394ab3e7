package body

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/server/resp"
	"github.com/indieinfra/mediavault/server/util"
)

// QueryParam represents a single query parameter with one key mapping to potentially many values
type QueryParam struct {
	Key   string
	Value []string
}

// QueryParams represents all query parameters for a URL. Bracketed keys are collapsed to their non-bracketed
// equivalents. That is, key ids[] == key ids. For a query parameter set ?ids[]=a&ids=b,
// this struct will contain one QueryParam with key=ids and value=[a,b].
type QueryParams struct {
	Params []QueryParam
}

// Get gets a single QueryParam from the given QueryParams
func (p *QueryParams) Get(key string) *QueryParam {
	for i := range p.Params {
		if p.Params[i].Key == key {
			return &p.Params[i]
		}
	}

	return nil
}

// GetFirst gets the first value for a QueryParam from the given QueryParams
// If the key does not map a param, or there are no values, an empty string is returned
func (p *QueryParams) GetFirst(key string) string {
	param := p.Get(key)
	if param == nil || len(param.Value) == 0 {
		return ""
	}

	return param.Value[0]
}

// GetIntOrDefault finds a single QueryParam from the QueryParams and attempts to parse its first value as an int
// If successful, that value is returned. Otherwise, the provided default value is returned.
func (p *QueryParams) GetIntOrDefault(key string, def int) int {
	first := p.GetFirst(key)
	if first == "" {
		return def
	}

	if tmp, err := strconv.Atoi(first); err == nil {
		return tmp
	}

	return def
}

// GetTime parses the first value for key as RFC 3339. A missing key yields
// the zero time.
func (p *QueryParams) GetTime(key string) (time.Time, error) {
	first := p.GetFirst(key)
	if first == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, first)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}

	return t, nil
}

// Add adds or appends a []string to the QueryParam that maps to the given key. If no key currently maps,
// a new QueryParam is created.
func (p *QueryParams) Add(key string, value []string) {
	param := p.Get(key)
	if param == nil {
		p.Params = append(p.Params, QueryParam{key, value})
	} else {
		param.Value = append(param.Value, value...)
	}
}

func ReadQueryParams(r *http.Request) QueryParams {
	params := QueryParams{}
	for key, value := range r.URL.Query() {
		key = strings.TrimSuffix(key, "[]")
		params.Add(key, value)
	}
	return params
}

// ReadJSON decodes a JSON request body into dst. It writes the error
// response itself and reports false when the body can not be used.
func ReadJSON(cfg *config.Config, w http.ResponseWriter, r *http.Request, dst any) bool {
	if _, ok := util.RequireJSONContentType(w, r); !ok {
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(cfg.Server.Limits.MaxPayloadSize))
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			resp.WriteHttpError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}

		resp.WriteInvalidRequest(w, fmt.Sprintf("Invalid JSON body: %v", err))
		return false
	}

	return true
}
