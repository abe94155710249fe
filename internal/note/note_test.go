package note

import (
	"strings"
	"testing"
	"time"
)

func TestMarshal_WireFormat(t *testing.T) {
	n := &Note{
		NoteID:     "n1",
		CRDTUpdate: []byte{1, 2, 3},
		Metadata: Metadata{
			Created: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			Version: 2,
		},
	}

	data, err := Marshal(n)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	s := string(data)
	for _, want := range []string{`"noteId":"n1"`, `"crdtUpdateBytes":"AQID"`, `"shareLinks":[]`, `"versionHistory":[]`} {
		if !strings.Contains(s, want) {
			t.Errorf("Marshal() = %s, missing %s", s, want)
		}
	}

	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.Metadata.Version != 2 || string(back.CRDTUpdate) != "\x01\x02\x03" {
		t.Errorf("Unmarshal() = %+v", back)
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	tests := []string{`not json`, `{}`, `{"noteId":""}`}
	for _, in := range tests {
		if _, err := Unmarshal([]byte(in)); err == nil {
			t.Errorf("Unmarshal(%q) expected error", in)
		}
	}
}
