package outbox

import "testing"

func TestEntryID(t *testing.T) {
	if got := EntryID(-100123, "456", ActionDelete); got != "-100123:456:delete" {
		t.Errorf("EntryID = %q, want -100123:456:delete", got)
	}
}

func TestActionType_Valid(t *testing.T) {
	for _, a := range []ActionType{ActionDelete, ActionWarn, ActionBan, ActionRestrict, ActionUnban} {
		if !a.Valid() {
			t.Errorf("%s should be valid", a)
		}
	}
	if ActionType("explode").Valid() {
		t.Error("unknown action should be invalid")
	}
}

func TestStatus_Terminal(t *testing.T) {
	if StatusPending.Terminal() || StatusProcessing.Terminal() {
		t.Error("pending/processing must not be terminal")
	}
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() {
		t.Error("completed/failed must be terminal")
	}
}
