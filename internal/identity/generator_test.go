package identity

import (
	"context"
	"regexp"
	"testing"
)

var tokenPattern = regexp.MustCompile(`^BRWS-[a-z0-9]{30,35}$`)

func TestNewTokenGrammar(t *testing.T) {
	for i := 0; i < 500; i++ {
		tok := NewToken()
		if !tokenPattern.MatchString(tok) {
			t.Fatalf("token %q does not match grammar", tok)
		}
	}
}

func TestGenerateNoDuplicates(t *testing.T) {
	g := NewGenerator(newFakeStore(), nil, nil)
	tokens := g.Generate(200)
	if len(tokens) != 200 {
		t.Fatalf("generated %d tokens, want 200", len(tokens))
	}
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if seen[tok] {
			t.Fatalf("duplicate token %q in batch", tok)
		}
		seen[tok] = true
		if !tokenPattern.MatchString(tok) {
			t.Fatalf("token %q does not match grammar", tok)
		}
	}
}

func TestStoreBatchSkipsExisting(t *testing.T) {
	store := newFakeStore()
	store.add("BRWS-existing0000000000000000000000000", 0, true)

	g := NewGenerator(store, nil, nil)
	res, err := g.StoreBatch(context.Background(), []string{
		"BRWS-existing0000000000000000000000000",
		"BRWS-fresh000000000000000000000000000a",
		"BRWS-fresh000000000000000000000000000b",
	})
	if err != nil {
		t.Fatalf("StoreBatch: %v", err)
	}
	if res.Created != 2 || res.Errors != 0 {
		t.Fatalf("StoreBatch = %+v, want Created=2 Errors=0", res)
	}
	if n := store.count(); n != 3 {
		t.Fatalf("store has %d tokens, want 3", n)
	}
}

func TestStoreBatchCountsFailures(t *testing.T) {
	store := newFakeStore()
	store.failTokens["BRWS-broken00000000000000000000000000"] = true

	g := NewGenerator(store, nil, nil)
	res, err := g.StoreBatch(context.Background(), []string{
		"BRWS-broken00000000000000000000000000",
		"BRWS-good0000000000000000000000000000",
	})
	if err != nil {
		t.Fatalf("StoreBatch: %v", err)
	}
	if res.Created != 1 || res.Errors != 1 {
		t.Fatalf("StoreBatch = %+v, want Created=1 Errors=1", res)
	}
}

type staticProber struct {
	status int
	err    error
}

func (p staticProber) Probe(ctx context.Context, token string) (int, error) {
	return p.status, p.err
}

func TestValidateSampleAcceptedStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{200, true},
		{400, true},
		{429, true},
		{403, false},
		{500, false},
	}
	for _, tc := range cases {
		g := NewGenerator(newFakeStore(), staticProber{status: tc.status}, nil)
		if got := g.ValidateSample(context.Background(), NewToken()); got != tc.want {
			t.Errorf("status %d: ValidateSample = %v, want %v", tc.status, got, tc.want)
		}
	}
}
