package mysql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bryanwahyu/jbi-analyzer/internal/domain/analysis"
	"github.com/bryanwahyu/jbi-analyzer/internal/domain/errs"
)

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// files disimpan sebagai JSON di satu kolom
func encodeFiles(files []analysis.UploadedFile) (string, error) {
	if files == nil {
		files = []analysis.UploadedFile{}
	}
	b, err := json.Marshal(files)
	return string(b), err
}

func decodeFiles(raw string) ([]analysis.UploadedFile, error) {
	var files []analysis.UploadedFile
	if raw == "" {
		return files, nil
	}
	err := json.Unmarshal([]byte(raw), &files)
	return files, err
}

func notFound(err error, id analysis.SessionID) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("Analysis session not found").With("sessionId", string(id))
	}
	return err
}
