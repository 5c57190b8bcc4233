// Package persistence archives per-connection results to disk.
package persistence

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"time"
)

// DataFile describes a result file written to disk.
type DataFile struct {
	// Prefix is the data directory the file was created under.
	Prefix string
	// Datatype and Direction are path components identifying the result
	// kind.
	Datatype  string
	Direction string
	// UUID is the flow's unique identifier.
	UUID string
	// Path is the complete path of the written file.
	Path string
	// Size is the size of the JSON record before compression.
	Size int
}

// WriteDataFile serializes result as gzip-compressed JSON to
// <prefix>/<datatype>/<yyyy>/<mm>/<dd>/<datatype>-<direction>-<timestamp>.<uuid>.json.gz
// and returns a description of the written file.
func WriteDataFile(prefix, datatype, direction, uuid string,
	result interface{}) (*DataFile, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	timestamp := time.Now().UTC()
	dir := path.Join(prefix, datatype, timestamp.Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	filepath := path.Join(dir, fmt.Sprintf("%s-%s-%s.%s.json.gz",
		datatype, direction,
		timestamp.Format("20060102T150405.000000000Z"), uuid))
	fp, err := os.OpenFile(filepath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	writer, err := gzip.NewWriterLevel(fp, gzip.BestSpeed)
	if err != nil {
		fp.Close()
		return nil, err
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		fp.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		fp.Close()
		return nil, err
	}
	if err := fp.Close(); err != nil {
		return nil, err
	}
	return &DataFile{
		Prefix:    prefix,
		Datatype:  datatype,
		Direction: direction,
		UUID:      uuid,
		Path:      filepath,
		Size:      len(data),
	}, nil
}
