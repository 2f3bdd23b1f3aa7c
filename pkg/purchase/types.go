package purchase

import (
	"fmt"
	"strings"
)

// Amount is an integer currency amount in minor units. Zero is a valid
// amount (free courses); negative amounts are not.
type Amount int64

// CourseID identifies a purchasable course.
type CourseID struct {
	value string
}

// CorrelationToken is the opaque identifier issued by the payment gateway
// and echoed back on the redirect. It is the only evidence of a specific
// deposit attempt.
type CorrelationToken struct {
	value string
}

// CallbackStatus is the coarse result flag the gateway appends to the
// redirect alongside the correlation token.
type CallbackStatus string

const (
	CallbackStatusOK     CallbackStatus = "OK"
	CallbackStatusFailed CallbackStatus = "NOK"
)

// Course is the purchase-relevant projection of a course. IsEnrolled is
// eventually consistent; it may lag the server until the next refresh.
type Course struct {
	ID         CourseID
	Price      Amount
	IsEnrolled bool
}

// Free reports whether the course needs no funds at all.
func (course Course) Free() bool {
	return course.Price == 0
}

// VerifiedDeposit is the backend's confirmation that money actually moved.
type VerifiedDeposit struct {
	Amount     Amount
	NewBalance Amount
	Message    string
}

// NewCourseID validates and normalizes a course id.
func NewCourseID(raw string) (CourseID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CourseID{}, fmt.Errorf("%w: empty value", ErrInvalidCourseID)
	}
	return CourseID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CourseID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id CourseID) IsZero() bool {
	return id.value == ""
}

// NewCorrelationToken validates and normalizes a gateway correlation token.
func NewCorrelationToken(raw string) (CorrelationToken, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CorrelationToken{}, fmt.Errorf("%w: empty value", ErrInvalidCorrelationToken)
	}
	return CorrelationToken{value: trimmed}, nil
}

// String returns the normalized token.
func (token CorrelationToken) String() string {
	return token.value
}

// NewAmount validates an amount and ensures it is not negative.
func NewAmount(raw int64) (Amount, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 returns the raw minor-unit value.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// ParseCallbackStatus maps the raw redirect query value onto a status.
func ParseCallbackStatus(raw string) (CallbackStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "OK":
		return CallbackStatusOK, nil
	case "NOK":
		return CallbackStatusFailed, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCallbackStatus, raw)
}

// String returns the wire value of the status.
func (status CallbackStatus) String() string {
	return string(status)
}
