// Package apierr writes gateway errors to HTTP responses in the OpenAI
// error format: {"error":{"message","type","code"}}.
package apierr

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/ai-gateway/internal/gwerr"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given
// HTTP status.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteError maps any error onto the taxonomy and writes it. Rate-limit
// denials get a Retry-After header when the error carries a hint.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	var gerr *gwerr.Error
	if !errors.As(err, &gerr) {
		gerr = gwerr.From(err)
	}

	if gerr.Kind == gwerr.KindLimitExceeded && gerr.RetryAfter > 0 {
		ctx.Response.Header.Set("Retry-After",
			strconv.Itoa(int(gerr.RetryAfter.Seconds())))
	}

	message := gerr.Message
	if gerr.Kind == gwerr.KindInternal {
		// Internal details stay in the logs.
		message = "internal server error"
	}
	Write(ctx, gerr.Kind.HTTPStatus(), message, gerr.Kind.String(), gerr.Code)
}

// WriteUnauthorized writes a 401 for missing or invalid gateway API keys.
func WriteUnauthorized(ctx *fasthttp.RequestCtx, message string) {
	Write(ctx, fasthttp.StatusUnauthorized, message,
		gwerr.KindAuthentication.String(), "invalid_api_key")
}
