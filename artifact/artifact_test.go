package artifact_test

import (
	"strings"
	"testing"
	"time"

	"github.com/blakecragen/cluster/artifact"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in      string
		want    artifact.Ref
		wantErr bool
	}{
		{"inputs/data.csv", artifact.Ref{Bucket: "inputs", Key: "data.csv"}, false},
		{"results/a/b.txt", artifact.Ref{Bucket: "results", Key: "a/b.txt"}, false},
		{"inputs", artifact.Ref{}, true},
		{"/key", artifact.Ref{}, true},
		{"bucket/", artifact.Ref{}, true},
		{"", artifact.Ref{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := artifact.ParseRef(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRef(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRef(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if !tt.wantErr && got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	now := time.Unix(1700000000, 0)

	in := artifact.InputRef("C:\\data\\report.csv", now)
	if in.Bucket != artifact.BucketInputs || in.Key != "report_1700000000.csv" {
		t.Errorf("InputRef = %+v", in)
	}

	res := artifact.ResultRef("job_01abc", "out.txt", now)
	if res.Bucket != artifact.BucketResults || res.Key != "result_job_01abc_1700000000.txt" {
		t.Errorf("ResultRef = %+v", res)
	}
	if res.Name() != "result_job_01abc_1700000000.txt" {
		t.Errorf("Name() = %q", res.Name())
	}

	blank := artifact.InputRef("", now)
	if !strings.HasPrefix(blank.Key, "input_") {
		t.Errorf("blank name key = %q", blank.Key)
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.txt":    "text/plain",
		"a.CSV":    "text/csv",
		"a.zip":    "application/zip",
		"a.json":   "application/json",
		"a.unknwn": "application/octet-stream",
		"noext":    "application/octet-stream",
	}
	for name, want := range tests {
		if got := artifact.ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}
