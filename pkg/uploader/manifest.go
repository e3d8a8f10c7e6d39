package uploader

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
)

// manifestFile is the per-date-directory upload log recording each file's
// outcome, one CSV line per attempt.
const manifestFile = "upload.info"

var manifestHeader = []string{
	"Source", "Destination", "Start", "End", "Md5", "UploadId",
	"Source Size", "Bytes Transferred", "Result", "Description",
}

type manifestRow struct {
	Source            string
	Destination       string
	Start             string
	End               string
	Md5               string
	UploadID          string
	SourceSize        int64
	BytesTransferred  int64
	Result            string
	Description       string
}

func (r manifestRow) record() []string {
	return []string{
		r.Source, r.Destination, r.Start, r.End, r.Md5, r.UploadID,
		strconv.FormatInt(r.SourceSize, 10), strconv.FormatInt(r.BytesTransferred, 10),
		r.Result, r.Description,
	}
}

// appendManifest adds rows to dateDir's upload.info, writing the header
// only if the file doesn't exist yet.
func appendManifest(dateDir string, rows []manifestRow) error {
	path := filepath.Join(dateDir, manifestFile)
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(manifestHeader); err != nil {
			return err
		}
	}
	for _, r := range rows {
		if err := w.Write(r.record()); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// readManifest parses dateDir's upload.info, or returns nil if it doesn't
// exist yet.
func readManifest(dateDir string) ([]manifestRow, error) {
	path := filepath.Join(dateDir, manifestFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) <= 1 {
		return nil, nil
	}

	rows := make([]manifestRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < 10 {
			continue
		}
		size, _ := strconv.ParseInt(rec[6], 10, 64)
		bytesTransferred, _ := strconv.ParseInt(rec[7], 10, 64)
		rows = append(rows, manifestRow{
			Source: rec[0], Destination: rec[1], Start: rec[2], End: rec[3],
			Md5: rec[4], UploadID: rec[5], SourceSize: size, BytesTransferred: bytesTransferred,
			Result: rec[8], Description: rec[9],
		})
	}
	return rows, nil
}

// unconfirmedSources returns the subset of attempted whose most recent
// manifest entry in dateDir is not "success": the files still pending
// after a failed batch.
func unconfirmedSources(dateDir string, attempted []string) ([]string, error) {
	rows, err := readManifest(dateDir)
	if err != nil {
		return nil, err
	}
	latestResult := make(map[string]string, len(rows))
	for _, r := range rows {
		latestResult[r.Source] = r.Result
	}

	var unconfirmed []string
	for _, src := range attempted {
		if latestResult[src] != "success" {
			unconfirmed = append(unconfirmed, src)
		}
	}
	return unconfirmed, nil
}
