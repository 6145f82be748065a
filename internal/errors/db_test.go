package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, wantCode: ErrCodeCanceled},
		{name: "wrapped deadline", err: fmt.Errorf("load: %w", context.DeadlineExceeded), wantCode: ErrCodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if !IsAppError(err, tt.wantCode) {
				t.Errorf("MapDBError() code = %v, want %v", GetCode(err), tt.wantCode)
			}
		})
	}
}

func TestMapDBError_NoRows(t *testing.T) {
	err := MapDBError(pgx.ErrNoRows)
	if !IsNotFound(err) {
		t.Errorf("MapDBError(ErrNoRows) code = %v, want not_found", GetCode(err))
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Error("mapped error should keep pgx.ErrNoRows as cause")
	}
}

func TestMapDBError_PgErrors(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		wantCode ErrorCode
		contains string
	}{
		{name: "undefined table", code: pgerrcode.UndefinedTable, wantCode: ErrCodeInternal, contains: "DB_RUN_MIGRATIONS_ON_START"},
		{name: "unique violation", code: pgerrcode.UniqueViolation, wantCode: ErrCodeConflict},
		{name: "connection failure", code: pgerrcode.ConnectionFailure, wantCode: ErrCodeNetworkFailure},
		{name: "too many connections", code: pgerrcode.TooManyConnections, wantCode: ErrCodeTimeout},
		{name: "query canceled", code: pgerrcode.QueryCanceled, wantCode: ErrCodeTimeout},
		{name: "syntax error", code: pgerrcode.SyntaxError, wantCode: ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(&pgconn.PgError{Code: tt.code, ColumnName: "device_id"})
			if !IsAppError(err, tt.wantCode) {
				t.Fatalf("code = %v, want %v", GetCode(err), tt.wantCode)
			}
			if tt.contains != "" && !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q should mention %q", err.Error(), tt.contains)
			}
		})
	}
}

func TestMapDBError_UniqueViolationField(t *testing.T) {
	err := MapDBError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ColumnName: "device_id"})
	if GetField(err) != "device_id" {
		t.Errorf("GetField() = %q, want device_id", GetField(err))
	}
}

func TestMapDBError_Passthrough(t *testing.T) {
	orig := errors.New("something else")
	if err := MapDBError(orig); !errors.Is(err, orig) || GetCode(err) != "" {
		t.Errorf("unrecognized errors should pass through unchanged, got %v", err)
	}
}
