package reminder

import (
	"errors"
	"fmt"
	"net/textproto"
	"strings"

	"mealreminder/internal/types"
)

// SummarizeFailure extracts the structured fields operators need from a
// delivery error: the provider code, the SMTP reply code and command, and the
// server response text. Fields that are unknown stay zero.
func SummarizeFailure(err error) types.FailureSummary {
	if err == nil {
		return types.FailureSummary{}
	}

	summary := types.FailureSummary{
		Name:    errorName(err),
		Message: err.Error(),
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		summary.Code = string(appErr.Code)
		if v, ok := appErr.Details["code"].(string); ok && v != "" {
			summary.Code = v
		}
		if v, ok := appErr.Details["command"].(string); ok {
			summary.Command = v
		}
		if v, ok := appErr.Details["response"].(string); ok {
			summary.Response = v
		}
		switch v := appErr.Details["responseCode"].(type) {
		case int:
			summary.ResponseCode = v
		case int32:
			summary.ResponseCode = int(v)
		case int64:
			summary.ResponseCode = int(v)
		case float64:
			summary.ResponseCode = int(v)
		}
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if summary.ResponseCode == 0 {
			summary.ResponseCode = protoErr.Code
		}
		if summary.Response == "" {
			summary.Response = protoErr.Msg
		}
	}

	return summary
}

// errorName returns the dynamic type of the innermost error, without the
// package pointer prefix.
func errorName(err error) string {
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	name := fmt.Sprintf("%T", root)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
