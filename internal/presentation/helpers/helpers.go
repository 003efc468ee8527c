package helpers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/relaycart/checkout-service/internal/domain"
)

func DecodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func HttpError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

func CodeError(w http.ResponseWriter, code, msg string) {
	WriteJSON(w, StatusForCode(code), map[string]string{
		"error_code": code,
		"error":      msg,
	})
}

// StatusForCode maps service error codes onto HTTP statuses. Unknown
// codes fall back to 500 so a new code never silently turns into a 200.
func StatusForCode(code string) int {
	switch code {
	case domain.CodeCheckoutNotFound, domain.CodeOrderNotFound, domain.CodeOfferNotFound, domain.CodeMerchantNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidState, domain.CodeInvalidTransition, domain.CodeNotApproved, domain.CodeQuoteRequired:
		return http.StatusConflict
	case domain.CodeReapprovalRequired:
		return http.StatusConflict
	case domain.CodeCheckoutExpired:
		return http.StatusGone
	case domain.CodeMerchantError:
		return http.StatusBadGateway
	case domain.CodeCreateFailed, domain.CodeQuoteFailed, domain.CodeApprovalFailed, domain.CodeConfirmFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
