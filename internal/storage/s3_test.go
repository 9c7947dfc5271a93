package storage

import (
	"testing"

	"github.com/aws/aws-sdk-go/aws"
)

func TestMetadataTagsLowercasesCanonicalKeys(t *testing.T) {
	meta := map[string]*string{
		"Meeting-Id":       aws.String("m-42"),
		"Original-Name":    aws.String("standup.mp3"),
		"Upload-Timestamp": aws.String("2026-08-29T10:00:00Z"),
	}

	tags := metadataTags(meta)

	if tags["meeting-id"] != "m-42" {
		t.Errorf("meeting-id = %q", tags["meeting-id"])
	}
	if tags["original-name"] != "standup.mp3" {
		t.Errorf("original-name = %q", tags["original-name"])
	}
	if tags["upload-timestamp"] != "2026-08-29T10:00:00Z" {
		t.Errorf("upload-timestamp = %q", tags["upload-timestamp"])
	}
}
