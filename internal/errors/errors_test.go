package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindPredicates(t *testing.T) {
	verr := Validationf("check_key", "dedup key %q invalid", "bad key")
	if !IsValidation(verr) {
		t.Fatalf("IsValidation = false")
	}
	if !errors.Is(verr, ErrInvalidInput) {
		t.Fatalf("validation error does not match ErrInvalidInput")
	}

	nf := NotFoundf("get_rule", "rule 42")
	if !IsNotFound(nf) {
		t.Fatalf("IsNotFound = false")
	}
	if IsValidation(nf) || IsConflict(nf) || IsTransient(nf) {
		t.Fatalf("not-found error matched wrong kinds")
	}

	tr := Transientf("send_email", fmt.Errorf("smtp timeout"))
	if !IsTransient(tr) {
		t.Fatalf("IsTransient = false")
	}

	fc := FatalConfigf("DATABASE_URL is required")
	if !IsFatalConfig(fc) {
		t.Fatalf("IsFatalConfig = false")
	}
}

func TestInvalidTransition(t *testing.T) {
	err := InvalidTransition("mark_delivered", "DELIVERED", "PENDING")
	if !IsConflict(err) {
		t.Fatalf("transition error is not a conflict")
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("transition error does not match ErrInvalidTransition")
	}
}

func TestWrappedKindSurvivesFmtErrorf(t *testing.T) {
	inner := NotFoundf("get_alert", "alert 9")
	wrapped := fmt.Errorf("loading alert: %w", inner)
	if !IsNotFound(wrapped) {
		t.Fatalf("kind lost through fmt.Errorf wrapping")
	}
	if HTTPStatus(wrapped) != http.StatusNotFound {
		t.Fatalf("HTTPStatus(wrapped not-found) = %d", HTTPStatus(wrapped))
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Validationf("op", "bad"), http.StatusBadRequest},
		{NotFoundf("op", "thing"), http.StatusNotFound},
		{Conflictf("op", "duplicate name"), http.StatusConflict},
		{Transientf("op", fmt.Errorf("down")), http.StatusServiceUnavailable},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
