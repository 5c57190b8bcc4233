// Command generate-schema writes the BigQuery schema for the archival
// transfer record.
package main

import (
	"flag"
	"os"

	"github.com/m-lab/go/cloud/bqx"
	"github.com/m-lab/go/rtx"

	"cloud.google.com/go/bigquery"

	"github.com/netmeasure/tcpmeter/pkg/transfer/model"
)

var transferSchema string

func init() {
	flag.StringVar(&transferSchema, "transfer", "/var/spool/datatypes/transfer.json", "filename to write transfer schema")
}

func main() {
	flag.Parse()
	// Generate and save the schema for autoloading.
	result := model.Result{}
	sch, err := bigquery.InferSchema(result)
	rtx.Must(err, "failed to generate transfer schema")
	sch = bqx.RemoveRequired(sch)
	b, err := sch.ToJSONFields()
	rtx.Must(err, "failed to marshal transfer schema")
	err = os.WriteFile(transferSchema, b, 0o644)
	rtx.Must(err, "failed to write transfer schema")
}
