package remote

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/odvcencio/dirpush/pkg/object"
	"github.com/odvcencio/dirpush/pkg/store"
)

func TestValidateHash(t *testing.T) {
	tests := []struct {
		in      object.Hash
		wantErr bool
	}{
		{in: "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2"},
		{in: "ce013625030ba8dba906f756967f9e9ca394464a"},
		{in: "", wantErr: true},
		{in: "abc123", wantErr: true},
		{in: "g1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2", wantErr: true},
		{in: "CE013625030BA8DBA906F756967F9E9CA394464A", wantErr: true},
	}
	for _, tc := range tests {
		err := ValidateHash(tc.in)
		if tc.wantErr != (err != nil) {
			t.Errorf("ValidateHash(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
	}
}

func TestRemoteErrorMatchesSentinel(t *testing.T) {
	body := []byte(`{"code":"ref_conflict","error":"ref moved","detail":"expected abc"}`)
	re := tryParseRemoteError(http.StatusConflict, body)
	if re == nil {
		t.Fatal("tryParseRemoteError returned nil")
	}
	if re.Status != http.StatusConflict || re.Detail != "expected abc" {
		t.Fatalf("RemoteError = %+v", re)
	}
	err := fmt.Errorf("update ref: %w", re)
	if !errors.Is(err, store.ErrRefConflict) {
		t.Fatalf("errors.Is(%v, ErrRefConflict) = false", err)
	}
	if errors.Is(err, store.ErrRefNotFound) {
		t.Fatalf("conflict matched ErrRefNotFound")
	}
	if tryParseRemoteError(http.StatusBadGateway, []byte("<html>bad gateway</html>")) != nil {
		t.Fatal("non-JSON body parsed as RemoteError")
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err        error
		inBody     bool
		wantStatus int
		wantCode   string
	}{
		{err: store.ErrRefNotFound, wantStatus: http.StatusNotFound, wantCode: CodeRefNotFound},
		{err: store.ErrObjectNotFound, wantStatus: http.StatusNotFound, wantCode: CodeObjectNotFound},
		{err: store.ErrObjectNotFound, inBody: true, wantStatus: http.StatusUnprocessableEntity, wantCode: CodeObjectNotFound},
		{err: fmt.Errorf("x: %w", store.ErrRefConflict), wantStatus: http.StatusConflict, wantCode: CodeRefConflict},
		{err: store.ErrRefExists, wantStatus: http.StatusUnprocessableEntity, wantCode: CodeRefExists},
		{err: store.ErrBlobTooLarge, wantStatus: http.StatusRequestEntityTooLarge, wantCode: CodeBlobTooLarge},
		{err: store.ErrEncoding, wantStatus: http.StatusUnprocessableEntity, wantCode: CodeEncoding},
		{err: store.ErrRepoNotFound, wantStatus: http.StatusNotFound, wantCode: CodeRepoNotFound},
		{err: store.ErrRepoExists, wantStatus: http.StatusUnprocessableEntity, wantCode: CodeRepoExists},
		{err: errors.New("disk on fire"), wantStatus: http.StatusInternalServerError, wantCode: CodeInternal},
	}
	for _, tc := range tests {
		status, code := errorStatus(tc.err, tc.inBody)
		if status != tc.wantStatus || code != tc.wantCode {
			t.Errorf("errorStatus(%v, %v) = %d %s, want %d %s", tc.err, tc.inBody, status, code, tc.wantStatus, tc.wantCode)
		}
	}
}
