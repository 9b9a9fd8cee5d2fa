package responder

import (
	"strings"
	"testing"
)

func TestFlags(t *testing.T) {
	t.Run("round-trips through the integer mask", func(t *testing.T) {
		flags := FlagActive | FlagModAction | FlagUseReplyLink
		stored := int64(flags)
		if got := Flags(stored); got != flags {
			t.Errorf("expected %v, got %v", flags, got)
		}
	})

	t.Run("Has requires every bit", func(t *testing.T) {
		flags := FlagActive | FlagModAction
		if !flags.Has(FlagActive) {
			t.Error("expected FlagActive set")
		}
		if flags.Has(FlagActive | FlagLogOnly) {
			t.Error("expected combined check to fail with one bit missing")
		}
	})

	t.Run("With and Without", func(t *testing.T) {
		flags := FlagActive.With(FlagLogOnly)
		if !flags.Has(FlagLogOnly) {
			t.Error("With did not set the bit")
		}
		flags = flags.Without(FlagLogOnly)
		if flags.Has(FlagLogOnly) {
			t.Error("Without did not clear the bit")
		}
		if !flags.Has(FlagActive) {
			t.Error("Without cleared an unrelated bit")
		}
	})
}

func TestParseFlag(t *testing.T) {
	flag, err := ParseFlag(" Mod_Action ")
	if err != nil {
		t.Fatalf("ParseFlag: %v", err)
	}
	if flag != FlagModAction {
		t.Errorf("expected FlagModAction, got %v", flag)
	}

	if _, err := ParseFlag("no_such_flag"); err == nil {
		t.Error("expected an error for an unknown name")
	}
}

func TestFlagWarnings(t *testing.T) {
	t.Run("delete_on_mod_respond without mod_action is inert", func(t *testing.T) {
		warnings := (FlagActive | FlagDeleteOnModRespond).Warnings()
		if len(warnings) != 1 || !strings.Contains(warnings[0], "mod_action") {
			t.Errorf("unexpected warnings: %v", warnings)
		}
	})

	t.Run("a sensible combination warns about nothing", func(t *testing.T) {
		warnings := (FlagActive | FlagModAction | FlagDeleteOnModRespond).Warnings()
		if len(warnings) != 0 {
			t.Errorf("unexpected warnings: %v", warnings)
		}
	})
}
