package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/learnmarket/coursewallet/pkg/purchase"
)

// CourseCache is the local course/enrollment cache kept eventually
// consistent with the backend.
type CourseCache interface {
	UpsertCourses(ctx context.Context, courses []CourseSummary) error
	MarkEnrolled(ctx context.Context, courseID string) error
}

// CourseSummary is the purchase-relevant course projection on the wire.
type CourseSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Price      int64  `json:"price"`
	IsEnrolled bool   `json:"is_enrolled"`
}

// WithCourseCache attaches a local course cache that is refreshed on
// course fetches and marked on successful enrollment.
func (client *Client) WithCourseCache(cache CourseCache) *Client {
	client.courseCache = cache
	return client
}

// Enroll buys a course. The backend's status codes carry the business
// taxonomy: 201 created, 400 validation, 402 insufficient funds, 409
// already enrolled.
func (client *Client) Enroll(ctx context.Context, id purchase.CourseID) error {
	err := client.doAuthenticated(ctx, http.MethodPost, "/courses/"+url.PathEscape(id.String())+"/enroll", nil, nil)
	if err == nil {
		client.markEnrolled(ctx, id)
		return nil
	}

	var statusError *StatusError
	if !errors.As(err, &statusError) {
		return purchase.WrapError("backend", "enroll", "transport", err)
	}
	switch statusError.StatusCode {
	case http.StatusBadRequest:
		return purchase.WrapError("backend", "enroll", "validation",
			fmt.Errorf("%w: %s", purchase.ErrCourseValidation, statusError.Message))
	case http.StatusPaymentRequired:
		return purchase.WrapError("backend", "enroll", "insufficient_funds", purchase.ErrInsufficientFunds)
	case http.StatusConflict:
		// The desired end state already holds; callers treat this as
		// success-equivalent.
		client.markEnrolled(ctx, id)
		return purchase.WrapError("backend", "enroll", "already_enrolled", purchase.ErrAlreadyEnrolled)
	}
	return purchase.WrapError("backend", "enroll", "unknown", statusError)
}

// Courses fetches the purchasable course list and refreshes the cache.
func (client *Client) Courses(ctx context.Context) ([]CourseSummary, error) {
	var result struct {
		Courses []CourseSummary `json:"courses"`
	}
	if err := client.doAuthenticated(ctx, http.MethodGet, "/courses", nil, &result); err != nil {
		return nil, err
	}
	if client.courseCache != nil {
		if err := client.courseCache.UpsertCourses(ctx, result.Courses); err != nil {
			client.logger.Warn("course cache refresh failed", zap.Error(err))
		}
	}
	return result.Courses, nil
}

// Course satisfies purchase.CourseCatalog with the backend's projection.
func (client *Client) Course(ctx context.Context, id purchase.CourseID) (purchase.Course, error) {
	var result CourseSummary
	err := client.doAuthenticated(ctx, http.MethodGet, "/courses/"+url.PathEscape(id.String()), nil, &result)
	if err != nil {
		var statusError *StatusError
		if errors.As(err, &statusError) && statusError.StatusCode == http.StatusNotFound {
			return purchase.Course{}, purchase.WrapError("backend", "catalog", "not_found",
				fmt.Errorf("%w: %s", purchase.ErrCourseValidation, id))
		}
		return purchase.Course{}, err
	}
	price, err := purchase.NewAmount(result.Price)
	if err != nil {
		return purchase.Course{}, purchase.WrapError("backend", "catalog", "invalid_price", err)
	}
	if client.courseCache != nil {
		if cacheErr := client.courseCache.UpsertCourses(ctx, []CourseSummary{result}); cacheErr != nil {
			client.logger.Warn("course cache refresh failed", zap.Error(cacheErr))
		}
	}
	return purchase.Course{
		ID:         id,
		Price:      price,
		IsEnrolled: result.IsEnrolled,
	}, nil
}

func (client *Client) markEnrolled(ctx context.Context, id purchase.CourseID) {
	if client.courseCache == nil {
		return
	}
	if err := client.courseCache.MarkEnrolled(ctx, id.String()); err != nil {
		client.logger.Warn("course cache enrollment mark failed", zap.Error(err))
	}
}
