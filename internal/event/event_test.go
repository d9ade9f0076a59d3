package event

import (
	"testing"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/subwatch/internal/record"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		op   string
		want Kind
	}{
		{"create", KindCreate},
		{"Create", KindCreate},
		{"CREATE", KindCreate},
		{"update", KindUpdate},
		{"assign", KindAssign},
		{"delete", KindDelete},
		{"retrieve", KindUserMention},
		{"", KindUserMention},
		{"usermention", KindUserMention},
	}
	for _, tc := range cases {
		if got := KindOf(tc.op); got != tc.want {
			t.Errorf("KindOf(%q) = %d, want %d", tc.op, got, tc.want)
		}
	}
}

func TestKindCodes(t *testing.T) {
	// The numeric codes are persisted; they must not drift.
	codes := map[Kind]int{
		KindUpdate:      863910000,
		KindCreate:      863910001,
		KindAssign:      863910002,
		KindDelete:      863910003,
		KindUserMention: 863910004,
	}
	for k, want := range codes {
		if int(k) != want {
			t.Errorf("%s = %d, want %d", k, int(k), want)
		}
	}
}

func TestEventReference(t *testing.T) {
	rec := record.New("incident", uuid.New())
	ref := record.Reference{Entity: "incident", ID: uuid.New()}

	withRecord := &Event{Record: rec}
	if got := withRecord.Reference(); got == nil || got.ID != rec.ID {
		t.Errorf("record-backed reference = %v", got)
	}

	withRef := &Event{RecordRef: &ref}
	if got := withRef.Reference(); got == nil || *got != ref {
		t.Errorf("bare reference = %v", got)
	}

	empty := &Event{}
	if got := empty.Reference(); got != nil {
		t.Errorf("empty event reference = %v, want nil", got)
	}
}
