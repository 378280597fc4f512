package store

import "testing"

func TestKeyFormat(t *testing.T) {
	if got := Key(ResourceDocument, "abc"); got != "papermill:documents:abc" {
		t.Errorf("Key = %s", got)
	}
	if got := Key(ResourceFingerprint, "deadbeef"); got != "papermill:fingerprints:deadbeef" {
		t.Errorf("Key = %s", got)
	}
}
