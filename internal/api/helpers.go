package api

import (
	"io"
	"net/http"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

const mimeOctetStream = "application/octet-stream"

func writeJSON(c *echo.Context, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res.WriteHeader(status)
	_, err = res.Write(b)
	return err
}

func writeBytes(c *echo.Context, data []byte) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, mimeOctetStream)
	res.Header().Set("Content-Length", strconv.Itoa(len(data)))
	res.WriteHeader(http.StatusOK)
	_, err := res.Write(data)
	return err
}

func writeError(c *echo.Context, err error) error {
	status, errType := errorStatus(err)
	return writeJSON(c, status, map[string]any{
		"error": ErrorBody{
			Message: err.Error(),
			Type:    errType,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, newInvalidRequest("decode request: %v", err)
	}
	return out, nil
}

func parseUint(name, v string, bits int) (uint64, error) {
	if v == "" {
		return 0, newInvalidRequest("%s is required", name)
	}
	n, err := strconv.ParseUint(v, 10, bits)
	if err != nil {
		return 0, newInvalidRequest("%s: %q is not a valid number", name, v)
	}
	return n, nil
}

func pathUint(c *echo.Context, name string, bits int) (uint64, error) {
	return parseUint(name, c.Param(name), bits)
}

func queryUint(c *echo.Context, name string, bits int) (uint64, error) {
	return parseUint(name, c.QueryParam(name), bits)
}

func queryBool(c *echo.Context, name string) (bool, error) {
	v := c.QueryParam(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, newInvalidRequest("%s: %q is not a boolean", name, v)
	}
	return b, nil
}

// printable reports whether b reads as text.
func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
