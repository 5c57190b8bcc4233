package persistence_test

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/netmeasure/tcpmeter/internal/persistence"
)

// A struct that can be marshalled to JSON.
type MarshallableStruct struct {
	Test string
}

func TestWriteDataFile(t *testing.T) {
	testdata := MarshallableStruct{Test: "foo"}
	dir := t.TempDir()
	df, err := persistence.WriteDataFile(dir, "transfer", "receive", "fake-uuid", testdata)
	if err != nil {
		t.Fatalf("cannot create test datafile: %v", err)
	}

	if df.Prefix != dir || df.Datatype != "transfer" ||
		df.Direction != "receive" || df.UUID != "fake-uuid" {
		t.Fatalf("invalid field values in DataFile")
	}

	// Check the generated path. The timestamp in the path is UTC.
	prefix := fmt.Sprintf("%s/transfer/%s/transfer-receive-", dir,
		time.Now().UTC().Format("2006/01/02"))
	if !strings.HasPrefix(df.Path, prefix) ||
		!strings.HasSuffix(df.Path, "fake-uuid.json.gz") {
		t.Errorf("invalid output path: %s", df.Path)
	}
	// Decompress and check the file contents.
	fp, err := os.Open(df.Path)
	if err != nil {
		t.Fatalf("error while opening data file: %v", err)
	}
	defer fp.Close()
	reader, err := gzip.NewReader(fp)
	if err != nil {
		t.Fatalf("error while creating gzip reader: %v", err)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		t.Errorf("error while reading file content: %v", err)
	}
	if string(content) != `{"Test":"foo"}` {
		t.Errorf("unexpected file content: %s", string(content))
	}
	if df.Size != len(content) {
		t.Errorf("invalid Size: %d (should be %d)", df.Size, len(content))
	}
}

func TestWriteDataFile_MarshalError(t *testing.T) {
	// Channels cannot be serialized as JSON.
	if _, err := persistence.WriteDataFile(t.TempDir(), "transfer", "receive",
		"fake-uuid", make(chan int)); err == nil {
		t.Fatalf("expected error, got nil")
	}
}
