package purchase

import (
	"errors"
	"testing"
)

func TestNewCourseIDTrimsWhitespace(test *testing.T) {
	test.Parallel()
	id, err := NewCourseID("  course-42  ")
	if err != nil {
		test.Fatalf("course id: %v", err)
	}
	if id.String() != "course-42" {
		test.Fatalf("expected trimmed id, got %q", id.String())
	}
}

func TestNewCourseIDRejectsEmpty(test *testing.T) {
	test.Parallel()
	if _, err := NewCourseID("   "); !errors.Is(err, ErrInvalidCourseID) {
		test.Fatalf("expected ErrInvalidCourseID, got %v", err)
	}
}

func TestNewAmountAllowsZero(test *testing.T) {
	test.Parallel()
	amount, err := NewAmount(0)
	if err != nil {
		test.Fatalf("zero amount: %v", err)
	}
	if amount.Int64() != 0 {
		test.Fatalf("expected 0, got %d", amount.Int64())
	}
}

func TestNewAmountRejectsNegative(test *testing.T) {
	test.Parallel()
	if _, err := NewAmount(-1); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestNewCorrelationTokenRejectsEmpty(test *testing.T) {
	test.Parallel()
	if _, err := NewCorrelationToken(""); !errors.Is(err, ErrInvalidCorrelationToken) {
		test.Fatalf("expected ErrInvalidCorrelationToken, got %v", err)
	}
}

func TestParseCallbackStatus(test *testing.T) {
	test.Parallel()
	cases := []struct {
		raw    string
		status CallbackStatus
		ok     bool
	}{
		{raw: "OK", status: CallbackStatusOK, ok: true},
		{raw: "ok", status: CallbackStatusOK, ok: true},
		{raw: " NOK ", status: CallbackStatusFailed, ok: true},
		{raw: "maybe", ok: false},
		{raw: "", ok: false},
	}
	for _, testCase := range cases {
		status, err := ParseCallbackStatus(testCase.raw)
		if testCase.ok {
			if err != nil {
				test.Fatalf("parse %q: %v", testCase.raw, err)
			}
			if status != testCase.status {
				test.Fatalf("parse %q: expected %s, got %s", testCase.raw, testCase.status, status)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidCallbackStatus) {
			test.Fatalf("parse %q: expected ErrInvalidCallbackStatus, got %v", testCase.raw, err)
		}
	}
}

func TestCourseFree(test *testing.T) {
	test.Parallel()
	if (Course{Price: 0}).Free() != true {
		test.Fatalf("zero price course must be free")
	}
	if (Course{Price: 100}).Free() {
		test.Fatalf("priced course must not be free")
	}
}
