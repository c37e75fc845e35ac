package models

import "testing"

func TestLookup_ExactMatch(t *testing.T) {
	m := Lookup("gpt-4o")
	if m == nil {
		t.Fatal("gpt-4o not found")
	}
	if m.Provider != "openai" || m.ContextWindow != 128000 {
		t.Errorf("got %+v", m)
	}
}

func TestLookup_VersionedIDMatchesPrefix(t *testing.T) {
	m := Lookup("claude-sonnet-4-5-20251219")
	if m == nil {
		t.Fatal("versioned id did not resolve")
	}
	if m.ID != "claude-sonnet-4-5" {
		t.Errorf("resolved to %q", m.ID)
	}
}

func TestLookup_ExactBeatsFuzzy(t *testing.T) {
	// gpt-4o is a prefix of gpt-4o-mini; the exact entry must win.
	if m := Lookup("gpt-4o-mini"); m == nil || m.ID != "gpt-4o-mini" {
		t.Errorf("got %+v", m)
	}
}

func TestLookup_Unknown(t *testing.T) {
	if m := Lookup("totally-made-up-model"); m != nil {
		t.Errorf("expected nil, got %+v", m)
	}
}

func TestContextWindowFor(t *testing.T) {
	if w := ContextWindowFor("claude-haiku-4-5"); w != 200000 {
		t.Errorf("window = %d", w)
	}
	if w := ContextWindowFor("nope"); w != 0 {
		t.Errorf("unknown window = %d", w)
	}
}

func TestMaxOutputFor(t *testing.T) {
	if n := MaxOutputFor("o4-mini"); n != 100000 {
		t.Errorf("max output = %d", n)
	}
}

func TestAll_SortedByProviderThenID(t *testing.T) {
	all := All()
	if len(all) == 0 {
		t.Fatal("empty registry")
	}
	for i := 1; i < len(all); i++ {
		a, b := all[i-1], all[i]
		if a.Provider > b.Provider || (a.Provider == b.Provider && a.ID > b.ID) {
			t.Errorf("not sorted at %d: %s/%s before %s/%s", i, a.Provider, a.ID, b.Provider, b.ID)
		}
	}
}
