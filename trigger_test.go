package responder

import (
	"testing"
)

func TestParseTrigger(t *testing.T) {
	t.Run("plain string", func(t *testing.T) {
		spec, err := ParseTrigger("hello world")
		if err != nil {
			t.Fatalf("ParseTrigger: %v", err)
		}
		if !spec.IsLiteral() || spec.Literal != "hello world" {
			t.Errorf("expected literal %q, got %+v", "hello world", spec)
		}
	})

	t.Run("JSON list with nested alternation", func(t *testing.T) {
		spec, err := ParseTrigger(`["alpha", ["beta", "gamma"]]`)
		if err != nil {
			t.Fatalf("ParseTrigger: %v", err)
		}
		if spec.IsLiteral() {
			t.Fatal("expected a conjunction")
		}
		if len(spec.Groups) != 2 || len(spec.Groups[1]) != 2 {
			t.Errorf("unexpected groups: %v", spec.Groups)
		}
	})

	t.Run("single-quoted list is repaired", func(t *testing.T) {
		spec, err := ParseTrigger(`['alpha', ['beta', 'gamma']]`)
		if err != nil {
			t.Fatalf("ParseTrigger: %v", err)
		}
		if spec.IsLiteral() || len(spec.Groups) != 2 {
			t.Errorf("unexpected spec: %+v", spec)
		}
	})

	t.Run("broken list is an error", func(t *testing.T) {
		if _, err := ParseTrigger(`["alpha",`); err == nil {
			t.Error("expected an error for malformed JSON")
		}
	})

	t.Run("empty input is an error", func(t *testing.T) {
		if _, err := ParseTrigger("   "); err != ErrEmptyTrigger {
			t.Errorf("expected ErrEmptyTrigger, got %v", err)
		}
		if _, err := ParseTrigger("[]"); err != ErrEmptyTrigger {
			t.Errorf("expected ErrEmptyTrigger, got %v", err)
		}
	})

	t.Run("non-string term is an error", func(t *testing.T) {
		if _, err := ParseTrigger(`["alpha", 42]`); err == nil {
			t.Error("expected an error for a numeric term")
		}
	})
}

func compileRule(t *testing.T, trigger string, flags Flags) *Rule {
	t.Helper()
	spec, err := ParseTrigger(trigger)
	if err != nil {
		t.Fatalf("ParseTrigger(%q): %v", trigger, err)
	}
	rule := &Rule{Trigger: spec, Flags: flags}
	if err := rule.compilePatterns(); err != nil {
		t.Fatalf("compile(%q): %v", trigger, err)
	}
	return rule
}

func TestMatchLiteral(t *testing.T) {
	t.Run("substring matches anywhere", func(t *testing.T) {
		rule := compileRule(t, "hello", FlagActive)
		if _, ok := rule.Match("well hello there"); !ok {
			t.Error("expected a substring match")
		}
		if _, ok := rule.Match("goodbye"); ok {
			t.Error("expected no match")
		}
	})

	t.Run("case insensitive by default", func(t *testing.T) {
		rule := compileRule(t, "Hello", FlagActive)
		if _, ok := rule.Match("HELLO world"); !ok {
			t.Error("expected a case-insensitive match")
		}
	})

	t.Run("match_case makes matching exact", func(t *testing.T) {
		rule := compileRule(t, "Hello", FlagActive|FlagMatchCase)
		if _, ok := rule.Match("hello world"); ok {
			t.Error("expected no match with different case")
		}
		if _, ok := rule.Match("Hello world"); !ok {
			t.Error("expected a match with identical case")
		}
	})

	t.Run("authored whitespace matches any whitespace run", func(t *testing.T) {
		rule := compileRule(t, "hello world", FlagActive)
		if _, ok := rule.Match("hello \n  world"); !ok {
			t.Error("expected multi-line whitespace to match")
		}
	})

	t.Run("regex metacharacters are literal", func(t *testing.T) {
		rule := compileRule(t, "1+1 (easy)", FlagActive)
		if _, ok := rule.Match("the answer to 1+1 (easy) please"); !ok {
			t.Error("expected metacharacters to match literally")
		}
		if _, ok := rule.Match("11 easy"); ok {
			t.Error("metacharacters behaved as regex syntax")
		}
	})
}

func TestMatchFullMatch(t *testing.T) {
	t.Run("literal full match anchors both ends", func(t *testing.T) {
		rule := compileRule(t, "trigger", FlagActive|FlagFullMatch)
		if _, ok := rule.Match("trigger"); !ok {
			t.Error("expected the exact message to match")
		}
		if _, ok := rule.Match("a trigger"); ok {
			t.Error("expected a prefix-padded message not to match")
		}
		if _, ok := rule.Match("triggers"); ok {
			t.Error("expected a suffixed message not to match")
		}
	})

	t.Run("list full match means whole words", func(t *testing.T) {
		rule := compileRule(t, `["cat"]`, FlagActive|FlagFullMatch)
		if _, ok := rule.Match("my cat sleeps"); !ok {
			t.Error("expected whole-word match inside a sentence")
		}
		if _, ok := rule.Match("concatenate"); ok {
			t.Error("expected no match inside another word")
		}
	})
}

func TestMatchConjunction(t *testing.T) {
	rule := compileRule(t, `["A", ["B", "C"]]`, FlagActive)

	t.Run("matches A B text", func(t *testing.T) {
		if _, ok := rule.Match("A B text"); !ok {
			t.Error("expected match")
		}
	})

	t.Run("matches text C plus A", func(t *testing.T) {
		matched, ok := rule.Match("text C plus A")
		if !ok {
			t.Fatal("expected match")
		}
		if len(matched) != 2 || matched[0] != "A" || matched[1] != "C" {
			t.Errorf("unexpected matched tokens: %v", matched)
		}
	})

	t.Run("rejects A only", func(t *testing.T) {
		if _, ok := rule.Match("A only"); ok {
			t.Error("expected no match without the second term")
		}
	})

	t.Run("rejects B C without A", func(t *testing.T) {
		if _, ok := rule.Match("B C"); ok {
			t.Error("expected no match without the first term")
		}
	})
}

func TestShortDescription(t *testing.T) {
	rule := compileRule(t, "a rather long trigger that goes on and on", FlagActive)
	desc := rule.ShortDescription()
	if len([]rune(desc)) != 30 {
		t.Errorf("expected a 30-rune description, got %q (%d)", desc, len([]rune(desc)))
	}

	short := compileRule(t, "short", FlagActive)
	if short.ShortDescription() != "short" {
		t.Errorf("expected %q, got %q", "short", short.ShortDescription())
	}
}
